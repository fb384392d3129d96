package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/capitalize-ai/messaging-platform/internal/model"
)

// workspacesFile is the YAML layout of WORKSPACES_FILE:
//
//	workspaces:
//	  - id: 7
//	    name: Smith & Co
//	    numbers: ["+14155550100"]
//	    members: ["user-alice"]
type workspacesFile struct {
	Workspaces []model.Workspace `yaml:"workspaces"`
}

// LoadWorkspaces reads the workspace registry seed. Environment variables
// of the form ${NAME} are expanded first.
func LoadWorkspaces(path string) ([]model.Workspace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workspaces: %w", err)
	}
	var file workspacesFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &file); err != nil {
		return nil, fmt.Errorf("parse workspaces: %w", err)
	}

	seen := make(map[int64]bool, len(file.Workspaces))
	for i := range file.Workspaces {
		ws := &file.Workspaces[i]
		if ws.ID <= 0 {
			return nil, fmt.Errorf("workspace %d: id must be positive", i)
		}
		if seen[ws.ID] {
			return nil, fmt.Errorf("workspace %d: duplicate id", ws.ID)
		}
		seen[ws.ID] = true
		for j, n := range ws.Numbers {
			n = strings.TrimSpace(n)
			if !strings.HasPrefix(n, "+") {
				return nil, fmt.Errorf("workspace %d: number %q must be in E.164 form", ws.ID, n)
			}
			ws.Numbers[j] = n
		}
	}
	return file.Workspaces, nil
}
