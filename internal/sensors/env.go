package sensors

import (
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/co2_monitor/internal/config"
	"github.com/relabs-tech/co2_monitor/internal/env"
)

var (
	bmpDev     *bmxx80.Dev
	bmpOnce    sync.Once
	bmpInitErr error
)

// initBMP initializes the BMP sensor once
func initBMP() {
	bmpOnce.Do(func() {
		cfg := config.Get()
		if cfg.BMPSPIDevice == "" {
			bmpInitErr = errors.New("BMP_SPI_DEVICE not configured")
			return
		}

		if _, err := host.Init(); err != nil {
			bmpInitErr = errors.Wrap(err, "periph host init")
			return
		}

		bus, err := spireg.Open(cfg.BMPSPIDevice)
		if err != nil {
			bmpInitErr = errors.Wrap(err, "BMP SPI open")
			return
		}

		bmpDev, err = bmxx80.NewSPI(bus, &bmxx80.DefaultOpts)
		if err != nil {
			bmpInitErr = errors.Wrap(err, "BMP init")
			return
		}

		log.Printf("env: BMP sensor initialized on %s", cfg.BMPSPIDevice)
	})
}

// ReadEnv reads the BMP sensor (temp + pressure).
func ReadEnv() (env.Sample, error) {
	initBMP()
	if bmpInitErr != nil {
		return env.Sample{}, bmpInitErr
	}

	var e physic.Env
	if err := bmpDev.Sense(&e); err != nil {
		return env.Sample{}, errors.Wrap(err, "BMP sense")
	}

	pressurePa := float64(e.Pressure) / float64(physic.Pascal)
	return env.Sample{
		Temperature: e.Temperature.Celsius(),
		Pressure:    pressurePa,
		PressureHPa: pressurePa / 100.0,
	}, nil
}
