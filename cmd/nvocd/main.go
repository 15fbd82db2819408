package main

import (
	goflag "flag"
	"fmt"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/judwhite/go-svc"
	"github.com/ngaut/log"
	flag "github.com/spf13/pflag"

	"github.com/nvoc-project/nvoc/internal/config"
	"github.com/nvoc-project/nvoc/internal/fancurve"
	"github.com/nvoc-project/nvoc/internal/gateway"
	"github.com/nvoc-project/nvoc/internal/profiles"
	"github.com/nvoc-project/nvoc/internal/routers"
)

var (
	BRANCH    string
	VERSION   string
	COMMIT    string
	GoVersion string
	BuildTime string
)

var (
	addr       = flag.StringP("addr", "a", "127.0.0.1:2380", "Address of the nvocd server, format: ip:port")
	configFile = flag.StringP("config", "c", "", "Path to the TOML config file, default: <config-dir>/config.toml")
	gpuIndex   = flag.IntP("gpu", "g", -1, "GPU index to manage, overrides the config file")
	helperPath = flag.String("helper", "/usr/libexec/nvoc-helper", "Path to the elevated helper binary")
	pkexecPath = flag.String("pkexec", "pkexec", "Path to pkexec")
	bootApply  = flag.BoolP("bootApply", "b", false, "Apply the boot profile on startup")
	logLevel   = flag.StringP("logLevel", "l", "debug", "Log level, optional: release")
)

type program struct {
	cfg   *config.Config
	gate  *gateway.Gateway
	fans  *fancurve.Controller
	store *profiles.Store
	flags *profiles.Flags
}

func main() {
	fmt.Printf("NVOC\n BRANCH: %s\n Version: %s\n COMMIT: %s\n GoVersion: %s\n BuildTime: %s\n\n", BRANCH, VERSION, COMMIT, GoVersion, BuildTime)
	prg := &program{}
	if err := svc.Run(prg, syscall.SIGINT, syscall.SIGTERM); err != nil {
		log.Fatal(err.Error())
	}
}

func (p *program) Init(svc.Environment) (err error) {
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	flag.Parse()
	log.SetLevelByString(*logLevel)

	name := *configFile
	if name == "" {
		name = filepath.Join(config.DefaultConfigDir(), "config.toml")
	}
	if p.cfg, err = config.NewConfigWithFile(name); err != nil {
		return
	}
	if *gpuIndex >= 0 {
		p.cfg.GPUIndex = *gpuIndex
	}

	limits := p.cfg.SafetyLimits()
	if p.gate, err = gateway.New(p.cfg.GPUIndex, limits, *pkexecPath, *helperPath); err != nil {
		return
	}

	if p.store, err = profiles.NewStore(p.cfg.ProfilesDir()); err != nil {
		return
	}
	if p.flags, err = profiles.NewFlags(p.cfg.ConfigDir); err != nil {
		return
	}

	p.fans = fancurve.New(p.gate, p.gate, limits, fancurve.Options{
		Interval:   time.Duration(p.cfg.FanIntervalMS) * time.Millisecond,
		Hysteresis: p.cfg.FanHysteresisCelsius,
		RampStep:   p.cfg.FanRampStepPercent,
	})

	return
}

func (p *program) Start() error {
	gh := routers.GPUHandler{Gateway: p.gate}
	fh := routers.FanHandler{
		Gateway:      p.gate,
		Controller:   p.fans,
		DefaultCurve: fancurve.NewCurve(p.cfg.FanCurvePoints()),
	}
	ph := routers.ProfileHandler{Gateway: p.gate, Store: p.store, Flags: p.flags}

	fmt.Printf("CONFIG\n addr: %s\n gpu: %d\n configDir: %s\n logLevel: %s\n\n", *addr, p.cfg.GPUIndex, p.cfg.ConfigDir, *logLevel)
	log.Info("nvocd started successfully!")

	if *bootApply {
		// one elevated prompt at startup; a failure must not keep the
		// server from coming up
		status, reason, err := p.gate.ApplyBootProfile()
		if err != nil {
			log.Errorf("boot profile apply failed: %v", err)
		} else if reason != "" {
			log.Infof("boot profile apply: %s (%s)", status, reason)
		} else {
			log.Infof("boot profile apply: %s", status)
		}
	}

	gin.SetMode(*logLevel)
	r := gin.New()
	r.Use(routers.Cors())
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
		})
	})
	// polling clients read their cadence and the active limits from here
	r.GET("/config", func(c *gin.Context) {
		limits := p.cfg.SafetyLimits()
		c.JSON(200, gin.H{
			"gpuIndex":          p.cfg.GPUIndex,
			"monitorIntervalMs": p.cfg.MonitorIntervalMS,
			"safetyLimits": gin.H{
				"maxCoreOffset":   limits.MaxCoreOffset,
				"maxMemoryOffset": limits.MaxMemoryOffset,
				"minFanPercent":   limits.MinFanPercent,
				"warningTemp":     limits.WarningTemp,
				"criticalTemp":    limits.CriticalTemp,
			},
		})
	})

	apiv1 := r.Group("/api/v1")
	gh.RegisterRoute(apiv1)
	fh.RegisterRoute(apiv1)
	ph.RegisterRoute(apiv1)

	go func() {
		_ = r.Run(*addr)
	}()

	return nil
}

func (p *program) Stop() error {
	log.Info("nvocd is stopping...")
	p.fans.Stop()
	p.gate.Close()
	log.Info("nvocd stopped successfully!")
	return nil
}
