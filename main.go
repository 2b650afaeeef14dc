package main

import (
	"flag"
	"fmt"
	"log"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

var (
	configFile   = flag.String("config", "config.yaml", "Path to configuration file")
	outputFile   = flag.String("output", "", "Override output surface path from config")
	rasterProp   = flag.String("raster", "", "Write a quick raster view of a flat-map property (e.g. polar_angle)")
	skipRegister = flag.Bool("dry-run", false, "Run the pipeline without storing the registration or outputs")
	showVersion  = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("retinotopy version: %s\n", Version)
		return
	}

	app := NewApp()
	app.ConfigFile = *configFile
	app.OutputFile = *outputFile
	app.RasterProp = *rasterProp
	app.SkipRegister = *skipRegister

	if err := app.LoadConfig(); err != nil {
		log.Printf("Error loading config: %v", err)
		os.Exit(1)
	}
	if err := app.ConnectMQTT(); err != nil {
		log.Printf("Error connecting to MQTT: %v", err)
		os.Exit(1)
	}
	if err := app.Run(); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}
