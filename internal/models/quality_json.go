// Copyright (c) 2025-2026, the fetcharr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"encoding/json"
	"fmt"
)

func marshalQuality(q Quality) (string, error) {
	data, err := json.Marshal(q)
	if err != nil {
		return "", fmt.Errorf("marshal quality: %w", err)
	}
	return string(data), nil
}

func unmarshalQuality(data string, dest *Quality) error {
	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return fmt.Errorf("unmarshal quality: %w", err)
	}
	return nil
}
