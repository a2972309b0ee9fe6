// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package namespace

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/viking-dev/viking/internal/store"
	vikingerr "github.com/viking-dev/viking/pkg/errors"
)

// NodeType distinguishes directories from resource leaves.
type NodeType string

const (
	NodeDirectory NodeType = "directory"
	NodeResource  NodeType = "resource"
)

// Node is one entry of a listing.
type Node struct {
	Name string
	URI  string
	Type NodeType

	// Status is set for resource nodes.
	Status store.Status
	// Children counts the resources beneath a directory node.
	Children int
	// UpdatedAt is the latest update among the node's resources.
	UpdatedAt time.Time
}

// Lister is the slice of the resource store a listing needs.
type Lister interface {
	List(ctx context.Context, prefix string) ([]*store.Resource, error)
}

// Normalize validates a namespace URI and strips trailing slashes. Only
// the root and URIs under ResourcesRoot are addressable.
func Normalize(uri string) (string, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return ResourcesRoot, nil
	}
	if uri == Root || uri == "viking:" {
		return Root, nil
	}
	trimmed := strings.TrimRight(uri, "/")
	if trimmed != ResourcesRoot && !strings.HasPrefix(trimmed, ResourcesRoot+"/") {
		return "", vikingerr.New(vikingerr.CodeNamespaceURIInvalid,
			"uri must be under "+ResourcesRoot, vikingerr.FieldURI(uri))
	}
	if strings.Contains(strings.TrimPrefix(trimmed, "viking://"), "//") {
		return "", vikingerr.New(vikingerr.CodeNamespaceURIInvalid, "uri contains empty segment", vikingerr.FieldURI(uri))
	}
	return trimmed, nil
}

// List returns the immediate children of uri, directories first and then
// by name. Listing a resource URI returns that single leaf. The directory
// structure is derived from stored resource URIs on every call, so it is
// always consistent with the store. A URI with nothing beneath it is
// not found, except for ResourcesRoot which lists as empty.
func List(ctx context.Context, lister Lister, uri string) ([]Node, error) {
	prefix, err := Normalize(uri)
	if err != nil {
		return nil, err
	}
	if prefix == Root {
		return listRoot(ctx, lister)
	}

	resources, err := lister.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	dirs := make(map[string]*Node)
	var leaves []Node
	for _, r := range resources {
		if r.URI == prefix {
			return []Node{leaf(r)}, nil
		}
		rest, ok := strings.CutPrefix(r.URI, prefix+"/")
		if !ok || rest == "" {
			continue
		}
		name, _, nested := strings.Cut(rest, "/")
		if !nested {
			leaves = append(leaves, leaf(r))
			continue
		}
		d, ok := dirs[name]
		if !ok {
			d = &Node{Name: name, URI: prefix + "/" + name, Type: NodeDirectory}
			dirs[name] = d
		}
		d.Children++
		if r.UpdatedAt.After(d.UpdatedAt) {
			d.UpdatedAt = r.UpdatedAt
		}
	}

	if len(dirs) == 0 && len(leaves) == 0 && prefix != ResourcesRoot {
		return nil, vikingerr.New(vikingerr.CodeNamespaceListNotFound, "no such namespace node", vikingerr.FieldURI(prefix))
	}

	nodes := make([]Node, 0, len(dirs)+len(leaves))
	for _, d := range dirs {
		nodes = append(nodes, *d)
	}
	nodes = append(nodes, leaves...)
	slices.SortFunc(nodes, func(a, b Node) int {
		if a.Type != b.Type {
			if a.Type == NodeDirectory {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Name, b.Name)
	})
	return nodes, nil
}

func listRoot(ctx context.Context, lister Lister) ([]Node, error) {
	resources, err := lister.List(ctx, ResourcesRoot)
	if err != nil {
		return nil, err
	}
	n := Node{Name: "resources", URI: ResourcesRoot, Type: NodeDirectory, Children: len(resources)}
	for _, r := range resources {
		if r.UpdatedAt.After(n.UpdatedAt) {
			n.UpdatedAt = r.UpdatedAt
		}
	}
	return []Node{n}, nil
}

func leaf(r *store.Resource) Node {
	return Node{
		Name:      r.URI[strings.LastIndex(r.URI, "/")+1:],
		URI:       r.URI,
		Type:      NodeResource,
		Status:    r.Status,
		UpdatedAt: r.UpdatedAt,
	}
}
