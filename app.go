package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/locuscaeruleus/cortexreg/retinotopy"
)

// App encapsulates the application state and dependencies
type App struct {
	Config    *retinotopy.Config
	Models    *retinotopy.ModelCache
	Publisher *retinotopy.ProgressPublisher

	// CLI flags (effectively dependencies)
	ConfigFile   string
	OutputFile   string
	RasterProp   string
	SkipRegister bool
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{}
}

// LoadConfig reads the run configuration and prepares the model cache.
func (a *App) LoadConfig() error {
	config, err := retinotopy.LoadConfig(a.ConfigFile)
	if err != nil {
		return err
	}
	a.Config = config

	modelDir := config.ModelDir
	if modelDir == "" {
		modelDir = "models"
	}
	a.Models = retinotopy.NewModelCache(modelDir)
	return nil
}

// ConnectMQTT connects the progress publisher. A missing broker leaves
// publishing disabled; runs work the same either way.
func (a *App) ConnectMQTT() error {
	client, err := retinotopy.NewMQTTClient(a.Config.MQTT)
	if err != nil {
		return err
	}
	a.Publisher = retinotopy.NewProgressPublisher(client, a.Config.MQTT.PublishPrefix)
	return nil
}

// Run executes a full registration for the configured subject.
func (a *App) Run() error {
	cfg := a.Config

	subjectFile, err := retinotopy.LoadSurface(cfg.Subject.Surface)
	if err != nil {
		return fmt.Errorf("loading subject surface: %w", err)
	}
	if subjectFile.ID == "" {
		subjectFile.ID = cfg.Subject.ID
	}
	if cfg.Subject.Chirality != "" {
		subjectFile.Chirality = cfg.Subject.Chirality
	}
	hemi, err := subjectFile.Hemisphere()
	if err != nil {
		return fmt.Errorf("building subject hemisphere: %w", err)
	}

	templateFile, err := retinotopy.LoadSurface(cfg.Template.Surface)
	if err != nil {
		return fmt.Errorf("loading template surface: %w", err)
	}
	pole := r3.Vec{X: cfg.Template.Pole[0], Y: cfg.Template.Pole[1], Z: cfg.Template.Pole[2]}
	if pole == (r3.Vec{}) {
		pole = r3.Vec{Z: 1}
	}
	tmpl, err := templateFile.Template(cfg.Template.SphereName, pole)
	if err != nil {
		return fmt.Errorf("building template: %w", err)
	}

	model, err := a.Models.Load(cfg.ModelName)
	if err != nil {
		return fmt.Errorf("loading model %q: %w", cfg.ModelName, err)
	}

	regName := cfg.RegistrationName
	if regName == "" {
		regName = "retinotopy"
	}
	opts := retinotopy.RegisterOptions{
		Model:            model,
		Radius:           cfg.Radius,
		WeightCutoff:     cfg.WeightCutoff,
		EdgeScale:        cfg.EdgeScale,
		AngleScale:       cfg.AngleScale,
		FunctionalScale:  cfg.FunctionalScale,
		MaxSteps:         cfg.MaxSteps,
		MaxStepSize:      cfg.MaxStepSize,
		MaxPEChange:      cfg.MaxPEChange,
		PartitionK:       cfg.PartitionK,
		RegistrationName: regName,
		SkipRegistration: a.SkipRegister,
		Publisher:        a.Publisher,
	}
	result, err := retinotopy.RegisterRetinotopy(hemi, tmpl, opts)
	if err != nil {
		return fmt.Errorf("registering %s: %w", hemi.ID, err)
	}
	log.Printf("Registration complete for %s: %d anchors, %d steps, PE %.6g -> %.6g",
		hemi.ID, result.Anchors.Len(), result.Minimize.Steps,
		result.Minimize.InitialEnergy, result.Minimize.FinalEnergy)
	a.Publisher.PublishResult(hemi.ID, regName, result)

	if a.SkipRegister {
		return nil
	}
	return a.writeOutputs(hemi, result)
}

// writeOutputs emits the configured artifacts plus any CLI overrides.
func (a *App) writeOutputs(hemi *retinotopy.Hemisphere, result *retinotopy.RegisterResult) error {
	out := a.Config.Output
	if a.OutputFile != "" {
		out.Surface = a.OutputFile
	}

	if out.Surface != "" {
		surface := retinotopy.SurfaceFromHemisphere(hemi)
		if err := retinotopy.SaveSurface(out.Surface, surface); err != nil {
			return err
		}
		log.Printf("Wrote registered surface to %s", out.Surface)
	}

	if out.SVG != "" || out.PNG != "" {
		renderer := retinotopy.NewFlatMapRenderer(result.Flat)
		renderer.Optimized = result.Optimized
		renderer.Anchors = result.Anchors
		if out.SVG != "" {
			if err := writeWith(out.SVG, renderer.RenderToSVG); err != nil {
				return err
			}
			log.Printf("Wrote flat map SVG to %s", out.SVG)
		}
		if out.PNG != "" {
			if err := writeWith(out.PNG, renderer.RenderToPNG); err != nil {
				return err
			}
			log.Printf("Wrote flat map PNG to %s", out.PNG)
		}
	}

	if a.RasterProp != "" {
		path := a.RasterProp + ".png"
		raster := retinotopy.NewAngleRaster(result.Flat, a.RasterProp)
		if err := raster.SavePNG(path); err != nil {
			return err
		}
		log.Printf("Wrote %s raster to %s", a.RasterProp, path)
	}
	return nil
}

func writeWith(path string, render func(w io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()
	return render(f)
}
