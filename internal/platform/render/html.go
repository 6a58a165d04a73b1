// Package render turns submitted posts into an HTML book source and converts
// that source into the deliverable e-book.
package render

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/phrazzld/bookpush/internal/domain"
	"github.com/phrazzld/bookpush/internal/platform/fetch"
	"github.com/phrazzld/bookpush/internal/task"
)

// SourceFile is the name of the rendered book source inside its directory.
const SourceFile = "index.html"

var pageTemplate = template.Must(template.New("book").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<meta name="author" content="{{.Author}}">
</head>
<body>
<h1>{{.Title}}</h1>
{{if .Author}}<p class="author">{{.Author}}</p>{{end}}
{{range .Posts}}<div class="post">
<h2>{{.Title}}</h2>
{{if .Subtitle}}<h3>{{.Subtitle}}</h3>{{end}}
{{.Body}}
</div>
{{end}}</body>
</html>
`))

type pagePost struct {
	Title    string
	Subtitle string
	Body     template.HTML
}

// HTMLRenderer writes posts as a single HTML page. Remote images are pointed
// at local files named after the last segment of their URL, which is where
// the asset fetcher stores them.
type HTMLRenderer struct{}

var _ task.Renderer = HTMLRenderer{}

// Render implements task.Renderer.
func (HTMLRenderer) Render(_ context.Context, title, author string, posts []domain.Post, dir string) (string, []string, error) {
	seen := make(map[string]bool)
	var assets []string

	page := struct {
		Title  string
		Author string
		Posts  []pagePost
	}{Title: title, Author: author}

	for i, p := range posts {
		body, urls, err := localizeImages(p.Content)
		if err != nil {
			return "", nil, fmt.Errorf("failed to parse post %d: %w", i, err)
		}
		for _, u := range urls {
			if !seen[u] {
				seen[u] = true
				assets = append(assets, u)
			}
		}
		page.Posts = append(page.Posts, pagePost{
			Title:    p.Title,
			Subtitle: p.Subtitle,
			Body:     template.HTML(body),
		})
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, page); err != nil {
		return "", nil, fmt.Errorf("failed to render page: %w", err)
	}

	path := filepath.Join(dir, SourceFile)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", nil, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, assets, nil
}

// localizeImages rewrites the src of every remote <img> in content to its
// local file name and returns the rewritten HTML and the remote URLs.
func localizeImages(content string) (string, []string, error) {
	parent := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(content), parent)
	if err != nil {
		return "", nil, err
	}

	var urls []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Img {
			for i, attr := range n.Attr {
				if attr.Key != "src" {
					continue
				}
				u, err := url.Parse(strings.TrimSpace(attr.Val))
				if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
					continue
				}
				name := fetch.FileName(u)
				if name == "" {
					continue
				}
				urls = append(urls, u.String())
				n.Attr[i].Val = name
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	var buf bytes.Buffer
	for _, n := range nodes {
		walk(n)
		if err := html.Render(&buf, n); err != nil {
			return "", nil, err
		}
	}
	return buf.String(), urls, nil
}
