package test

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/benchroom/benchroom/api/rest/service/catalog"
	"github.com/benchroom/benchroom/pkg/client"
	"github.com/benchroom/benchroom/pkg/env"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	applyPaths  []string
	applyServer string
)

var applyCmd = &cobra.Command{
	Use:     "apply",
	Short:   "Apply test and candidate manifests via the REST API",
	Example: "benchroom test apply -p 'tests/**/*.yaml'",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, files, err := collectManifests(applyPaths)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No manifests found.")
			return nil
		}

		server := applyServer
		if server == "" {
			server = env.Variables().ServerURL
		}

		res, err := client.New(server, "").Apply(cmd.Context(), m)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Applied %d test(s) and %d candidate(s) from %d file(s)\n", res.Tests, res.Candidates, len(files))
		return nil
	},
}

func init() {
	applyCmd.Flags().StringSliceVarP(&applyPaths, "path", "p", nil, "Manifest files, directories or glob patterns (default: current directory)")
	applyCmd.Flags().StringVar(&applyServer, "server", "", "benchroom server base URL (default: BENCHROOM_SERVER_URL)")
	Cmd.AddCommand(applyCmd)
}

// collectManifests expands paths into YAML files and merges every
// document they contain into one manifest.
func collectManifests(paths []string) (*catalog.Manifest, []string, error) {
	files, err := expand(paths)
	if err != nil {
		return nil, nil, err
	}

	m := &catalog.Manifest{}
	for _, f := range files {
		if err := appendManifests(f, m); err != nil {
			return nil, nil, err
		}
	}

	if len(files) > 0 {
		if err := m.Validate(); err != nil {
			return nil, nil, err
		}
	}

	return m, files, nil
}

func expand(paths []string) ([]string, error) {
	if len(paths) == 0 {
		paths = []string{"."}
	}

	seen := map[string]bool{}
	var files []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}

	for _, p := range paths {
		if hasMeta(p) {
			matches, err := doublestar.FilepathGlob(p)
			if err != nil {
				return nil, errors.Wrapf(err, "glob %q", p)
			}
			for _, match := range matches {
				if isYAML(match) {
					add(match)
				}
			}
			continue
		}

		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			if !isYAML(p) {
				return nil, errors.Errorf("%s is not a YAML file", p)
			}
			add(p)
			continue
		}

		matches, err := doublestar.Glob(os.DirFS(p), "**/*.{yaml,yml}")
		if err != nil {
			return nil, errors.Wrapf(err, "walk %q", p)
		}
		for _, match := range matches {
			add(filepath.Join(p, filepath.FromSlash(match)))
		}
	}

	sort.Strings(files)
	return files, nil
}

func appendManifests(path string, m *catalog.Manifest) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var doc catalog.Manifest
		if err := dec.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return errors.Wrap(err, path)
		}
		m.Merge(&doc)
	}

	return nil
}

func hasMeta(p string) bool {
	return strings.ContainsAny(p, "*?[{")
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
