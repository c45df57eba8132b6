package main

import (
	"embed"
	"fmt"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"covergen/core"
)

//go:embed all:frontend/dist
var assets embed.FS

func main() {
	app := core.NewApp()

	err := wails.Run(&options.App{
		Title:     "CoverGen",
		Width:     1280,
		Height:    860,
		MinWidth:  960,
		MinHeight: 640,
		AssetServer: &assetserver.Options{
			Assets:     assets,
			Middleware: newImageAssetMiddleware(),
		},
		OnStartup:  app.Startup,
		OnShutdown: app.Shutdown,
		Bind: []interface{}{
			app,
		},
	})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
	}
}
