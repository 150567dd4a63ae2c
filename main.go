package main

import (
	"embed"
	"log"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"voicedesk/internal/config"
)

//go:embed all:frontend/dist
var assets embed.FS

func main() {
	for _, err := range config.LoadEnvFiles() {
		log.Printf("env file: %v", err)
	}

	app := NewApp()
	err := wails.Run(&options.App{
		Title:     "voicedesk",
		Width:     420,
		Height:    640,
		MinWidth:  360,
		MinHeight: 480,
		AssetServer: &assetserver.Options{
			Assets: assets,
		},
		OnStartup:  app.startup,
		OnShutdown: app.shutdown,
		Bind: []interface{}{
			app,
		},
	})
	if err != nil {
		log.Fatalf("voicedesk: %v", err)
	}
}
