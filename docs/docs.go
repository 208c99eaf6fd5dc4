// Package docs embeds the OpenAPI description served under /swagger.
package docs

import _ "embed"

// Version matches info.version in openapi.yaml.
const Version = "1.0.0"

//go:embed openapi.yaml
var OpenAPISpec []byte
