package browser

// Key bindings handled in handleKey.
const (
	KeyQuit      = "q"
	KeyCtrlC     = "ctrl+c"
	KeyUp        = "up"
	KeyDown      = "down"
	KeyJ         = "j"
	KeyK         = "k"
	KeyEnter     = "enter"
	KeyExport    = "e"
	KeyExportAll = "E"
	KeyReload    = "r"
)
