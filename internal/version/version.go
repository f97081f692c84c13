// Package version reads the deploy's version.json for the /__version__
// endpoint.
package version

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Info is the Dockerflow version document written next to the binary at
// deploy time.
type Info struct {
	Commit  string `json:"commit"`
	Version string `json:"version"`
	Source  string `json:"source"`
	Build   string `json:"build"`
}

// Load reads version.json from basedir. A missing file yields an empty Info
// rather than an error so local runs still serve the endpoint.
func Load(basedir string) (Info, error) {
	path := filepath.Join(basedir, "version.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Info{}, nil
		}
		return Info{}, fmt.Errorf("read %s: %w", path, err)
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return Info{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return info, nil
}
