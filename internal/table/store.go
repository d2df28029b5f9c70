package table

import (
	"context"
	"fmt"

	"github.com/afroash/egat-monitor/internal/models"
)

// Objects is a byte-level object store addressed by path.
type Objects interface {
	Get(ctx context.Context, path string) ([]byte, error)
	Put(ctx context.Context, path string, data []byte) error
}

// Load downloads and decodes the table at path. Store errors are returned
// unchanged so callers can test for a missing table.
func Load(ctx context.Context, objs Objects, path string) ([]models.Reading, error) {
	data, err := objs.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	rows, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return rows, nil
}

// Save encodes rows and uploads them to path.
func Save(ctx context.Context, objs Objects, path string, rows []models.Reading) error {
	data, err := Encode(rows)
	if err != nil {
		return err
	}
	return objs.Put(ctx, path, data)
}
