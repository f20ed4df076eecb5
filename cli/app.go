package cli

import (
	"io"

	"github.com/urfave/cli/v2"
)

const (
	// Global flags.
	configFlag = "config"
	debugFlag  = "debug"

	serialFlag     = "serial"
	framesFlag     = "frames"
	outFlag        = "out"
	recordFlag     = "record"
	intrinsicsFlag = "intrinsics"
	timedFlag      = "timed"
	intervalFlag   = "interval"
	plotFlag       = "plot"
	cornersFlag    = "corners"
)

var serialStringFlag = &cli.StringFlag{
	Name:  serialFlag,
	Usage: "serial number of the device; defaults to the first attached device",
}

var app = &cli.App{
	Name:            "nect",
	Usage:           "acquire frames from depth sensors and calibrate their cameras",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    configFlag,
			Aliases: []string{"c"},
			Usage:   "load configuration from `FILE`",
		},
		&cli.BoolFlag{
			Name:    debugFlag,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
	},
	Commands: []*cli.Command{
		{
			Name:   "devices",
			Usage:  "list the attached devices",
			Action: DevicesAction,
		},
		{
			Name:      "preview",
			Usage:     "stream frames from a device and save the last preview planes",
			UsageText: "nect preview [--serial S] [--frames N] --out DIR",
			Flags: []cli.Flag{
				serialStringFlag,
				&cli.IntFlag{
					Name:  framesFlag,
					Usage: "number of frame sets to acquire",
					Value: 30,
				},
				&cli.PathFlag{
					Name:     outFlag,
					Usage:    "directory the color, ir and depth previews are written to",
					Required: true,
				},
				&cli.PathFlag{
					Name:  recordFlag,
					Usage: "also record every frame set under `DIR` in the replay layout",
				},
				&cli.PathFlag{
					Name:  intrinsicsFlag,
					Usage: "depth sensor intrinsics `FILE`; when set the depth preview is also written as points",
				},
			},
			Action: PreviewAction,
		},
		{
			Name:  "calibrate",
			Usage: "capture calibration shots from a device and solve the camera calibration",
			Description: `Manual captures take a shot every time Enter is pressed. Timed captures take a
shot every interval until the frame quota is reached. The previous calibration of
the device is backed up while capturing and restored when the capture is aborted.`,
			Flags: []cli.Flag{
				serialStringFlag,
				&cli.IntFlag{
					Name:  framesFlag,
					Usage: "number of shots to capture",
					Value: 10,
				},
				&cli.BoolFlag{
					Name:  timedFlag,
					Usage: "take shots on a timer instead of on Enter",
				},
				&cli.DurationFlag{
					Name:  intervalFlag,
					Usage: "delay between timed shots; defaults to timed_interval_ms of the config",
				},
			},
			Action: CalibrateAction,
		},
		{
			Name:  "solve",
			Usage: "solve the calibration of the shots already captured for a device",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     serialFlag,
					Usage:    "serial number of the device",
					Required: true,
				},
			},
			Action: SolveAction,
		},
		{
			Name:  "restore",
			Usage: "roll the calibration folder of a device back to its backup",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     serialFlag,
					Usage:    "serial number of the device",
					Required: true,
				},
			},
			Action: RestoreAction,
		},
		{
			Name:  "show",
			Usage: "print the stored calibration of a device",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     serialFlag,
					Usage:    "serial number of the device",
					Required: true,
				},
				&cli.PathFlag{
					Name:  plotFlag,
					Usage: "save a chart of the per view reprojection errors to `FILE`",
				},
				&cli.PathFlag{
					Name:  cornersFlag,
					Usage: "save every color shot with its detected corners drawn under `DIR`",
				},
			},
			Action: ShowAction,
		},
		{
			Name:            "config",
			Usage:           "work with the configuration file",
			HideHelpCommand: true,
			Subcommands: []*cli.Command{
				{
					Name:   "schema",
					Usage:  "print the JSON schema of the configuration file",
					Action: ConfigSchemaAction,
				},
				{
					Name:   "default",
					Usage:  "print the default configuration",
					Action: ConfigDefaultAction,
				},
			},
		},
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(in io.Reader, out, errOut io.Writer) *cli.App {
	app.Reader = in
	app.Writer = out
	app.ErrWriter = errOut
	return app
}
