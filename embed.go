package mayachat

import "embed"

// TemplateFS contains the embedded HTML templates of the chat page: the layout, the page itself and
// the message partials that are also pushed to the browser on every update.
//
//go:embed templates/*
var TemplateFS embed.FS

// StaticFS contains the embedded script and stylesheet of the chat page.
//
//go:embed static/*
var StaticFS embed.FS
