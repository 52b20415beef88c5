package services

import (
	"encoding/json"
	"fmt"

	"github.com/queryhive/queryhive/pkg/models"
)

func unmarshalPayload(raw []byte, payload *models.ConnectionPayload) error {
	if err := json.Unmarshal(raw, payload); err != nil {
		return fmt.Errorf("decoding connection payload: %w", err)
	}
	return nil
}
