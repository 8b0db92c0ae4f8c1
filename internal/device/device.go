package device

import (
	"context"
	"errors"
	"fmt"

	"deploytime/sync-agent/internal/repository"

	"github.com/google/uuid"
)

// installationNamespace scopes ids derived from a machine id so the raw
// machine id never leaves the host.
var installationNamespace = uuid.MustParse("6f1c3f0e-4a52-4d0b-9a55-2c7f1e8d9b31")

// ConfigStore is the key/value table the id is kept in.
type ConfigStore interface {
	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

// MachineIDSource reports a stable host identifier.
type MachineIDSource interface {
	MachineID() (string, error)
}

// InstallationID returns the id sent as X-Device-ID. It is created once and
// then read back from the store. When a machine id is available the id is
// derived from it, otherwise it is random.
func InstallationID(ctx context.Context, store ConfigStore, source MachineIDSource) (string, error) {
	id, err := store.GetConfig(ctx, repository.ConfigInstallationID)
	if err == nil && id != "" {
		return id, nil
	}
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return "", fmt.Errorf("failed to read installation id: %w", err)
	}

	id = uuid.NewString()
	if source != nil {
		if machineID, err := source.MachineID(); err == nil && machineID != "" {
			id = uuid.NewSHA1(installationNamespace, []byte(machineID)).String()
		}
	}

	if err := store.SetConfig(ctx, repository.ConfigInstallationID, id); err != nil {
		return "", fmt.Errorf("failed to store installation id: %w", err)
	}
	return id, nil
}
