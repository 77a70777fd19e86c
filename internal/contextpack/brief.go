package contextpack

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/yarlson/lever/internal/taskstore"
)

type brief struct {
	TaskID           string              `json:"task_id"`
	Title            string              `json:"title"`
	Status           string              `json:"status"`
	Model            string              `json:"model"`
	DefinitionOfDone []string            `json:"definition_of_done"`
	Recommended      briefRecommendation `json:"recommended"`
	Verification     *briefVerification  `json:"verification,omitempty"`
}

type briefRecommendation struct {
	Approach string `json:"approach"`
}

type briefVerification struct {
	Commands []string `json:"commands"`
}

// WriteBrief writes the task brief handed to the pack builder with --task @path.
func WriteBrief(path string, task *taskstore.Task) error {
	b := brief{
		TaskID:           task.ID,
		Title:            task.Title,
		Status:           string(task.EffectiveStatus()),
		Model:            task.Model,
		DefinitionOfDone: task.DefinitionOfDone,
		Recommended:      briefRecommendation{Approach: task.Approach()},
	}
	if cmds := task.VerificationCommands(); len(cmds) > 0 {
		b.Verification = &briefVerification{Commands: cmds}
	}

	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode task brief: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write task brief: %w", err)
	}
	return nil
}
