package config

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/a8m/envsubst"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"

	"github.com/GiovanniPag/pyNect/logging"
)

// Read reads a config from the given file, expanding environment variables first. Fields absent
// from the file keep their Default values.
func Read(
	ctx context.Context,
	filePath string,
	logger logging.Logger,
) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	return FromReader(ctx, filePath, bytes.NewReader(buf), logger)
}

// FromReader reads a config from the given reader and specifies
// where, if applicable, the file the reader originated from.
func FromReader(
	ctx context.Context,
	originalPath string,
	r io.Reader,
	logger logging.Logger,
) (*Config, error) {
	cfg := Default()
	cfg.ConfigFilePath = originalPath
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to decode Config from json")
	}
	if err := cfg.Validate("config"); err != nil {
		return nil, err
	}
	logger.CDebugw(ctx, "config read",
		"path", originalPath,
		"source", cfg.Source.Kind,
		"refresh_rate_ms", cfg.RefreshRateMs,
		"pattern", cfg.Pattern)
	return cfg, nil
}

// Schema returns the JSON schema of the config file.
func Schema() *jsonschema.Schema {
	return jsonschema.Reflect(&Config{})
}
