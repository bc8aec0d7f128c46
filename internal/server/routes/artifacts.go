package routes

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/artisan/internal/artifact"
	"github.com/any-hub/artisan/internal/meta"
	"github.com/any-hub/artisan/internal/server"
	"github.com/any-hub/artisan/internal/spec"
	"github.com/any-hub/artisan/internal/tree"
)

// RegisterArtifactRoutes 暴露 /-/artifacts 只读接口：列出根目录下的 artifact，
// 查看单个 artifact 的元数据与条目，以及读取数组或文件内容。
func RegisterArtifactRoutes(app *fiber.App, cache *artifact.Cache) {
	if app == nil || cache == nil {
		return
	}

	app.Get("/-/artifacts", func(c fiber.Ctx) error {
		listings, err := cache.List()
		if err != nil {
			return server.RenderError(c, fiber.StatusInternalServerError, "internal_error")
		}
		return c.JSON(fiber.Map{"artifacts": encodeListings(listings)})
	})

	app.Get("/-/artifacts/:name", func(c fiber.Ctx) error {
		a, err := openArtifact(cache, c.Params("name"))
		if err != nil {
			return renderLookupError(c, err)
		}
		return renderArtifact(c, a)
	})

	app.Get("/-/artifacts/:name/*", func(c fiber.Ctx) error {
		a, err := openArtifact(cache, c.Params("name"))
		if err != nil {
			return renderLookupError(c, err)
		}
		key := strings.Trim(c.Params("*"), "/")
		if key == "" {
			return renderArtifact(c, a)
		}
		entry, err := a.Get(key)
		if err != nil {
			return renderLookupError(c, err)
		}
		return renderEntry(c, entry)
	})
}

var errArtifactNotFound = errors.New("artifact not found")

type listingPayload struct {
	Name   string      `json:"name"`
	Path   string      `json:"path"`
	Status meta.Status `json:"status,omitempty"`
	Spec   spec.Spec   `json:"spec"`
	Error  string      `json:"error,omitempty"`
}

type artifactPayload struct {
	Name   string      `json:"name"`
	Status meta.Status `json:"status"`
	Spec   spec.Spec   `json:"spec"`
	Count  int         `json:"count"`
	Keys   []string    `json:"keys"`
}

type arrayPayload struct {
	Kind  string `json:"kind"`
	DType string `json:"dtype"`
	Shape []int  `json:"shape"`
	Data  any    `json:"data"`
}

type treePayload struct {
	Kind  string   `json:"kind"`
	Count int      `json:"count"`
	Keys  []string `json:"keys"`
}

func encodeListings(listings []artifact.Listing) []listingPayload {
	result := make([]listingPayload, 0, len(listings))
	for _, l := range listings {
		item := listingPayload{
			Name:   l.Name,
			Path:   l.Path,
			Status: l.Record.Status,
			Spec:   l.Record.Spec,
		}
		if l.Err != nil {
			item.Error = l.Err.Error()
		}
		result = append(result, item)
	}
	return result
}

// openArtifact 只接受根目录下的单级目录名，隐藏名与路径穿越一律视为非法。
func openArtifact(cache *artifact.Cache, name string) (*artifact.Artifact, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, tree.HiddenPrefix) {
		return nil, tree.ErrInvalidKey
	}
	a, err := cache.Open(filepath.Join(cache.Root(), name))
	if err != nil {
		return nil, err
	}
	if !a.Exists() {
		return nil, errArtifactNotFound
	}
	return a, nil
}

func renderArtifact(c fiber.Ctx, a *artifact.Artifact) error {
	rec, err := a.Meta()
	if err != nil {
		return server.RenderError(c, fiber.StatusInternalServerError, "internal_error")
	}
	keys, err := sortedKeys(a.Tree)
	if err != nil {
		return server.RenderError(c, fiber.StatusInternalServerError, "internal_error")
	}
	return c.JSON(artifactPayload{
		Name:   a.Name(),
		Status: rec.Status,
		Spec:   rec.Spec,
		Count:  len(keys),
		Keys:   keys,
	})
}

func renderEntry(c fiber.Ctx, entry tree.Entry) error {
	switch e := entry.(type) {
	case *tree.Tree:
		if !e.Exists() {
			return server.RenderError(c, fiber.StatusNotFound, "entry_not_found")
		}
		keys, err := sortedKeys(e)
		if err != nil {
			return server.RenderError(c, fiber.StatusInternalServerError, "internal_error")
		}
		return c.JSON(treePayload{Kind: tree.KindTree.String(), Count: len(keys), Keys: keys})
	case tree.ArrayEntry:
		arr, err := e.Read()
		if err != nil {
			return server.RenderError(c, fiber.StatusInternalServerError, "internal_error")
		}
		data, err := arr.Any()
		if err != nil {
			return server.RenderError(c, fiber.StatusInternalServerError, "internal_error")
		}
		if raw, ok := data.([]uint8); ok {
			// []byte 会被 JSON 编码为 base64，这里展开成数字。
			data = widenBytes(raw)
		}
		return c.JSON(arrayPayload{
			Kind:  tree.KindArray.String(),
			DType: arr.DType.String(),
			Shape: arr.Shape,
			Data:  data,
		})
	case tree.BlobEntry:
		data, err := e.Bytes()
		if err != nil {
			return server.RenderError(c, fiber.StatusInternalServerError, "internal_error")
		}
		if ext := filepath.Ext(e.Path()); ext != "" {
			c.Type(strings.TrimPrefix(ext, "."))
		}
		return c.Send(data)
	default:
		return server.RenderError(c, fiber.StatusInternalServerError, "internal_error")
	}
}

func renderLookupError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, tree.ErrInvalidKey), errors.Is(err, artifact.ErrInvalidArgument):
		return server.RenderError(c, fiber.StatusBadRequest, "invalid_key")
	case errors.Is(err, errArtifactNotFound):
		return server.RenderError(c, fiber.StatusNotFound, "artifact_not_found")
	case errors.Is(err, os.ErrNotExist):
		return server.RenderError(c, fiber.StatusNotFound, "entry_not_found")
	default:
		return server.RenderError(c, fiber.StatusInternalServerError, "internal_error")
	}
}

func widenBytes(raw []uint8) []uint16 {
	out := make([]uint16, len(raw))
	for i, b := range raw {
		out[i] = uint16(b)
	}
	return out
}

func sortedKeys(t *tree.Tree) ([]string, error) {
	keys := make([]string, 0)
	for key, err := range t.Keys() {
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}
