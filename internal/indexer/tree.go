package indexer

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Node types
const (
	NodeFile   = "file"
	NodeFolder = "folder"
)

// Node is one entry of the file tree handed to IndexTree.
// Path is the logical identifier stored with every chunk of the file.
type Node struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Path     string  `json:"path"`
	Children []*Node `json:"children,omitempty"`
}

// ContentFunc returns the text of the file at a Node's Path
type ContentFunc func(path string) (string, error)

// BuildTree walks rootDir and returns its tree with slash-separated paths
// relative to rootDir. Skipped directories are not descended into.
func BuildTree(rootDir string, cfg Config) (*Node, error) {
	info, err := os.Stat(rootDir)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", rootDir)
	}

	skip := cfg.skipSet()
	root := &Node{Name: filepath.Base(rootDir), Type: NodeFolder, Path: ""}
	folders := map[string]*Node{".": root}

	err = filepath.WalkDir(rootDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(rootDir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		parent := folders[path.Dir(rel)]
		if parent == nil {
			return nil
		}

		switch {
		case d.IsDir():
			if _, ok := skip[d.Name()]; ok {
				return filepath.SkipDir
			}
			n := &Node{Name: d.Name(), Type: NodeFolder, Path: rel}
			parent.Children = append(parent.Children, n)
			folders[rel] = n
		case d.Type().IsRegular():
			parent.Children = append(parent.Children, &Node{Name: d.Name(), Type: NodeFile, Path: rel})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", rootDir, err)
	}

	return root, nil
}

// OSContent reads tree paths relative to rootDir
func OSContent(rootDir string) ContentFunc {
	return func(p string) (string, error) {
		data, err := os.ReadFile(filepath.Join(rootDir, filepath.FromSlash(p)))
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

// collectFiles returns the eligible file paths under root in depth-first order
func (cfg Config) collectFiles(root *Node) []string {
	skip := cfg.skipSet()
	exts := make(map[string]struct{}, len(cfg.Extensions))
	for _, e := range cfg.Extensions {
		exts[strings.ToLower(e)] = struct{}{}
	}

	var files []string
	var visit func(n *Node)
	visit = func(n *Node) {
		if n == nil {
			return
		}
		switch n.Type {
		case NodeFolder:
			if _, ok := skip[n.Name]; ok {
				return
			}
			for _, c := range n.Children {
				visit(c)
			}
		case NodeFile:
			if len(exts) > 0 {
				if _, ok := exts[strings.ToLower(path.Ext(n.Name))]; !ok {
					return
				}
			}
			files = append(files, n.Path)
		}
	}

	// The root itself is never skipped by name
	if root != nil && root.Type == NodeFolder {
		for _, c := range root.Children {
			visit(c)
		}
	} else {
		visit(root)
	}
	return files
}

func (cfg Config) skipSet() map[string]struct{} {
	skip := make(map[string]struct{}, len(cfg.SkipDirs)+1)
	for _, d := range cfg.SkipDirs {
		skip[d] = struct{}{}
	}
	if cfg.CacheDirName != "" {
		skip[cfg.CacheDirName] = struct{}{}
	}
	return skip
}
