package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/loykin/hookd/internal/importer"
	"github.com/loykin/hookd/pkg/client"
	"github.com/loykin/hookd/pkg/template"
)

const defaultAPIUrl = "http://127.0.0.1:8080/api"

// ListFlags mirrors the list filters.
type ListFlags struct {
	Type       string
	Definition string
	Element    string
	Path       string
}

// InitFlags controls skeleton generation.
type InitFlags struct {
	Type   string
	Format string
	Path   string
	Output string
}

// command runs CLI operations against a daemon over its API.
type command struct {
	flags *GlobalFlags
	out   io.Writer
}

func (c command) client(ctx context.Context) (*client.Client, error) {
	url := c.flags.APIUrl
	if url == "" {
		url = defaultAPIUrl
	}
	cl := client.New(client.Config{BaseURL: url, Timeout: c.flags.APITimeout})
	if !cl.IsReachable(ctx) {
		return nil, fmt.Errorf("daemon not reachable at %s - please start daemon first with 'hookd serve'", url)
	}
	return cl, nil
}

func (c command) List(ctx context.Context, f ListFlags) error {
	cl, err := c.client(ctx)
	if err != nil {
		return err
	}
	hooks, err := cl.List(ctx, client.ListQuery(f))
	if err != nil {
		return err
	}
	return c.print(hooks)
}

func (c command) Status(ctx context.Context, path string) error {
	cl, err := c.client(ctx)
	if err != nil {
		return err
	}
	if path == "" {
		paths, err := cl.Paths(ctx)
		if err != nil {
			return err
		}
		return c.print(paths)
	}
	st, err := cl.Status(ctx, path)
	if err != nil {
		return err
	}
	return c.print(st)
}

func (c command) Health(ctx context.Context) error {
	cl, err := c.client(ctx)
	if err != nil {
		return err
	}
	h, err := cl.Health(ctx)
	if err != nil {
		return err
	}
	return c.print(h)
}

func (c command) Deploy(ctx context.Context, file string) error {
	d, err := importer.DecodeFile(file)
	if err != nil {
		return err
	}
	cl, err := c.client(ctx)
	if err != nil {
		return err
	}
	res, err := cl.Deploy(ctx, toClientDefinition(d))
	if err != nil {
		return err
	}
	return c.print(res)
}

func (c command) Undeploy(ctx context.Context, id string, version int) error {
	cl, err := c.client(ctx)
	if err != nil {
		return err
	}
	if err := cl.Undeploy(ctx, id, version); err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.out, "undeployed %s\n", id)
	return err
}

func toClientDefinition(d importer.Definition) client.Definition {
	out := client.Definition{ID: d.ID, Version: d.Version}
	for _, e := range d.Elements {
		out.Elements = append(out.Elements, client.Element{
			ID:           e.ID,
			ContextPath:  e.ContextPath,
			Type:         e.Type,
			Secret:       e.Secret,
			SecretHeader: e.SecretHeader,
			Target:       e.Target,
		})
	}
	return out
}

func (c command) print(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.out, string(b))
	return err
}

// Init writes a definition skeleton. It does not need a running daemon.
func (c command) Init(id string, f InitFlags) error {
	out, err := template.NewGenerator().Render(template.TemplateType(f.Type), id, f.Path, template.Format(f.Format))
	if err != nil {
		return err
	}
	if f.Output == "" {
		_, err = c.out.Write(out)
		return err
	}
	if err := os.WriteFile(f.Output, out, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", f.Output, err)
	}
	_, err = fmt.Fprintf(c.out, "wrote %s\n", f.Output)
	return err
}
