package noteservice

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"

	"github.com/starford/quire/internal/apperr"
	"github.com/starford/quire/internal/models"
	"github.com/starford/quire/internal/store"
)

// Settings loads the settings blob. Each key is decoded and validated on its
// own; a missing or invalid value leaves that key at its default.
func (s *Service) Settings(ctx context.Context) (models.Settings, error) {
	raw, err := s.db.Settings(ctx)
	if err != nil {
		return models.Settings{}, err
	}
	valid := make(map[string]json.RawMessage, len(raw))
	for _, key := range models.SettingKeys {
		v, ok := raw[key]
		if !ok {
			continue
		}
		if err := checkSetting(key, v); err != nil {
			s.logger.Warn("noteservice: ignoring stored setting",
				slog.String("key", key), slog.String("error", err.Error()))
			continue
		}
		valid[key] = v
	}
	var out models.Settings
	if len(valid) == 0 {
		return out, nil
	}
	b, err := json.Marshal(valid)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return models.Settings{}, fmt.Errorf("noteservice: settings: %w", err)
	}
	return out, nil
}

// UpdateSettings stores the given keys. A JSON null clears a key. Unknown
// keys and invalid values reject the whole patch.
func (s *Service) UpdateSettings(ctx context.Context, patch map[string]json.RawMessage) (models.Settings, error) {
	for key, v := range patch {
		if !slices.Contains(models.SettingKeys, key) {
			return models.Settings{}, fmt.Errorf("%w: unknown setting %q", apperr.ErrInvalidInput, key)
		}
		if string(v) == "null" {
			continue
		}
		if err := checkSetting(key, v); err != nil {
			return models.Settings{}, fmt.Errorf("%w: %s: %v", apperr.ErrInvalidInput, key, err)
		}
	}
	err := s.db.InTx(ctx, func(tx *store.Tx) error {
		for key, v := range patch {
			if err := tx.PutSetting(ctx, key, v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return models.Settings{}, err
	}
	out, err := s.Settings(ctx)
	if err != nil {
		return out, err
	}
	s.notify("settings.updated", out)
	return out, nil
}

func checkSetting(key string, v json.RawMessage) error {
	one, err := json.Marshal(map[string]json.RawMessage{key: v})
	if err != nil {
		return err
	}
	var candidate models.Settings
	if err := json.Unmarshal(one, &candidate); err != nil {
		return err
	}
	return candidate.Validate()
}
