package transporthttp

import (
	"fmt"
	"net/http"

	"nftstorefront/docs"
)

const specPath = "/swagger/openapi.yaml"

// swaggerPage opens with every operation listed and keeps the selected
// operation in the URL fragment, so links like /swagger#/storefront/getItem
// can be shared. The spec URL carries the API version to defeat stale caches.
var swaggerPage = []byte(fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>NFT Storefront API %[1]s</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  <style>
    body { margin: 0; }
    .storefront-banner { padding: 12px 20px; font-family: sans-serif; background: #403f83; color: #fff; }
    .storefront-banner a { color: #fff; margin-right: 16px; }
  </style>
</head>
<body>
  <div class="storefront-banner">
    <strong>NFT Storefront API v%[1]s</strong>
    <a href="#/storefront/explore">explore</a>
    <a href="#/storefront/getItem">item</a>
    <a href="#/storefront/getAuthor">author</a>
    <a href="%[2]s?v=%[1]s">raw spec</a>
  </div>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.addEventListener('load', function() {
      SwaggerUIBundle({
        url: '%[2]s?v=%[1]s',
        dom_id: '#swagger-ui',
        deepLinking: true,
        docExpansion: 'list',
        tryItOutEnabled: true
      });
    });
  </script>
</body>
</html>`, docs.Version, specPath))

func serveSwaggerUI(w http.ResponseWriter, r *http.Request) {
	if len(docs.OpenAPISpec) == 0 {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(swaggerPage)
}

// serveSwaggerYAML serves the embedded spec. Versioned requests are cached
// for a day; unversioned ones are revalidated against the version ETag.
func serveSwaggerYAML(w http.ResponseWriter, r *http.Request) {
	if len(docs.OpenAPISpec) == 0 {
		http.NotFound(w, r)
		return
	}

	etag := `"` + docs.Version + `"`
	w.Header().Set("ETag", etag)
	if r.URL.Query().Get("v") == docs.Version {
		w.Header().Set("Cache-Control", "public, max-age=86400")
	} else {
		w.Header().Set("Cache-Control", "no-cache")
	}
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(docs.OpenAPISpec)
}
