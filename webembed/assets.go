package webembed

// Root is the embedded directory holding the built popup.
const Root = "dist"

// Assets are the files the popup page loads. index.html references the others
// by these names.
var Assets = []string{"index.html", "app.js", "style.css"}
