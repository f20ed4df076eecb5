package cli

import (
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/GiovanniPag/pyNect/rimage/calibrate"
)

// DevicesAction lists the attached devices and whether they are calibrated.
func DevicesAction(c *cli.Context) error {
	return withClient(c, func(ac *appClient) (err error) {
		m, err := ac.openManager(c.Context)
		if err != nil {
			return err
		}
		defer func() {
			err = multierr.Combine(err, m.Close(c.Context))
		}()
		folders, err := ac.folders()
		if err != nil {
			return err
		}

		sessions := m.Sessions()
		if len(sessions) == 0 {
			warningf(ac.out(), "no devices found; check the %q source", ac.cfg.Source.Kind)
			return nil
		}
		t := table.NewWriter()
		t.SetOutputMirror(ac.out())
		t.AppendHeader(table.Row{"#", "Serial", "Calibrated", "RMS (px)", "Solved at"})
		for _, s := range sessions {
			row := table.Row{strconv.Itoa(s.Ordinal()), s.Serial(), "no", "", ""}
			if folders.IsCalibrated(s.Serial()) {
				row[2] = "yes"
				if r, err := calibrate.ReadResult(folders.ResultsPath(s.Serial())); err == nil {
					row[3] = fmt.Sprintf("%.4f", r.RMS)
					row[4] = r.SolvedAt.Local().Format("2006-01-02 15:04")
				}
			}
			t.AppendRow(row)
		}
		t.Render()
		return nil
	})
}
