package openapi

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"
)

// Operation describes one HTTP endpoint. Paths use echo syntax (":id").
type Operation struct {
	Method      string
	Path        string
	Summary     string
	Tag         string
	RequestBody string // "multipart" | "json" | ""
	Binary      bool   // successful response is the raw document
	Responses   map[int]string
}

// Generator builds an OpenAPI 3.0 document from registered operations.
type Generator struct {
	title   string
	version string
	baseURL string
	ops     []Operation
}

// NewGenerator creates a new OpenAPI spec generator.
func NewGenerator(title, version, baseURL string) *Generator {
	return &Generator{title: title, version: version, baseURL: baseURL}
}

// Add registers operations. Later registrations for the same method and path
// replace earlier ones.
func (g *Generator) Add(ops ...Operation) {
	for _, op := range ops {
		op.Method = strings.ToUpper(op.Method)
		replaced := false
		for i := range g.ops {
			if g.ops[i].Method == op.Method && g.ops[i].Path == op.Path {
				g.ops[i] = op
				replaced = true
				break
			}
		}
		if !replaced {
			g.ops = append(g.ops, op)
		}
	}
}

// GenerateSpec produces the OpenAPI 3.0 spec as a map.
func (g *Generator) GenerateSpec() map[string]interface{} {
	paths := make(map[string]interface{})
	tagSet := make(map[string]bool)

	for _, op := range g.ops {
		path, params := convertPath(op.Path)
		item, _ := paths[path].(map[string]interface{})
		if item == nil {
			item = make(map[string]interface{})
			paths[path] = item
		}

		entry := map[string]interface{}{
			"summary":     op.Summary,
			"operationId": operationID(op.Method, op.Path),
			"responses":   g.buildResponses(op),
		}
		if op.Tag != "" {
			entry["tags"] = []string{op.Tag}
			tagSet[op.Tag] = true
		}
		if len(params) > 0 {
			entry["parameters"] = params
		}
		if body := buildRequestBody(op.RequestBody); body != nil {
			entry["requestBody"] = body
		}
		item[strings.ToLower(op.Method)] = entry
	}

	tags := make([]map[string]string, 0, len(tagSet))
	names := make([]string, 0, len(tagSet))
	for name := range tagSet {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		tags = append(tags, map[string]string{"name": name})
	}

	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":   g.title,
			"version": g.version,
		},
		"servers": []map[string]string{
			{"url": g.baseURL},
		},
		"paths": paths,
		"tags":  tags,
		"components": map[string]interface{}{
			"schemas": map[string]interface{}{
				"Error": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"message": map[string]string{"type": "string"},
					},
				},
			},
		},
	}
}

// convertPath rewrites ":name" segments to "{name}" and returns the matching
// path parameters.
func convertPath(p string) (string, []map[string]interface{}) {
	segs := strings.Split(p, "/")
	var params []map[string]interface{}
	for i, s := range segs {
		if !strings.HasPrefix(s, ":") {
			continue
		}
		name := s[1:]
		segs[i] = "{" + name + "}"
		params = append(params, map[string]interface{}{
			"name":     name,
			"in":       "path",
			"required": true,
			"schema":   map[string]string{"type": "string", "format": "uuid"},
		})
	}
	return strings.Join(segs, "/"), params
}

func operationID(method, path string) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(method))
	for _, s := range strings.Split(path, "/") {
		s = strings.TrimPrefix(s, ":")
		for _, part := range strings.Split(s, "-") {
			if part == "" {
				continue
			}
			b.WriteString(strings.ToUpper(part[:1]) + part[1:])
		}
	}
	return b.String()
}

func buildRequestBody(kind string) map[string]interface{} {
	switch kind {
	case "multipart":
		return map[string]interface{}{
			"required": true,
			"content": map[string]interface{}{
				"multipart/form-data": map[string]interface{}{
					"schema": map[string]interface{}{
						"type":     "object",
						"required": []string{"file"},
						"properties": map[string]interface{}{
							"file": map[string]string{"type": "string", "format": "binary"},
						},
					},
				},
			},
		}
	case "json":
		return map[string]interface{}{
			"required": true,
			"content": map[string]interface{}{
				"application/json": map[string]interface{}{
					"schema": map[string]string{"type": "object"},
				},
			},
		}
	}
	return nil
}

func (g *Generator) buildResponses(op Operation) map[string]interface{} {
	out := make(map[string]interface{}, len(op.Responses))
	for code, desc := range op.Responses {
		resp := map[string]interface{}{"description": desc}
		switch {
		case code == http.StatusNoContent:
		case code >= 400:
			resp["content"] = map[string]interface{}{
				"application/json": map[string]interface{}{
					"schema": map[string]string{"$ref": "#/components/schemas/Error"},
				},
			}
		case op.Binary:
			resp["content"] = map[string]interface{}{
				"application/octet-stream": map[string]interface{}{
					"schema": map[string]string{"type": "string", "format": "binary"},
				},
			}
		default:
			resp["content"] = map[string]interface{}{
				"application/json": map[string]interface{}{
					"schema": map[string]string{"type": "object"},
				},
			}
		}
		out[fmt.Sprintf("%d", code)] = resp
	}
	return out
}

const docsCSP = "default-src 'self' https://unpkg.com; script-src 'self' 'unsafe-inline' https://unpkg.com; " +
	"style-src 'self' 'unsafe-inline' https://unpkg.com; img-src 'self' data:"

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>%s - Swagger UI</title>
  <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" >
  <style>
    html { box-sizing: border-box; overflow-y: scroll; }
    *, *:before, *:after { box-sizing: inherit; }
    body { margin: 0; background: #fafafa; }
  </style>
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({
      url: "%s",
      dom_id: '#swagger-ui',
      deepLinking: true,
      presets: [
        SwaggerUIBundle.presets.apis,
        SwaggerUIBundle.SwaggerUIStandalonePreset
      ],
      layout: "BaseLayout"
    })
  </script>
</body>
</html>`

// RegisterRoutes registers the OpenAPI endpoints. group must be mounted at
// the generator's base URL path.
func (g *Generator) RegisterRoutes(group *echo.Group) {
	specURL := strings.TrimRight(g.baseURL, "/") + "/openapi.json"
	page := fmt.Sprintf(swaggerUIHTML, g.title, specURL)

	group.GET("/openapi.json", func(c echo.Context) error {
		return c.JSON(http.StatusOK, g.GenerateSpec())
	})
	group.GET("/docs", func(c echo.Context) error {
		// The UI loads its bundle from the CDN.
		c.Response().Header().Set("Content-Security-Policy", docsCSP)
		return c.HTML(http.StatusOK, page)
	})
}
