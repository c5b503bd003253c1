// Command dflowtop is a terminal dashboard for a running dflowd: it polls
// the pipeline's /status endpoint and renders a btop-style header/stats/
// table layout, the same tview shape sdl_fetch/fetch.go's createMainUI
// builds for tailing Mongo audit events, adapted from polling a
// collection to polling dflowd's HTTP status endpoint.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

type tableStatus struct {
	Schema string   `json:"schema"`
	Table  string   `json:"table"`
	IDCols []string `json:"id_cols"`
	NumCol int      `json:"num_columns"`
}

type status struct {
	Position   string        `json:"position"`
	RowsSunk   int64         `json:"rows_sunk"`
	RowsPerSec float64       `json:"rows_per_sec"`
	Tables     []tableStatus `json:"tables"`
}

type appState struct {
	statusURL   string
	client      *http.Client
	last        status
	lastUpdated time.Time
	err         error
	autoRefresh bool
}

func (a *appState) refresh() {
	resp, err := a.client.Get(a.statusURL)
	if err != nil {
		a.err = err
		return
	}
	defer resp.Body.Close()

	var s status
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		a.err = err
		return
	}
	a.last = s
	a.lastUpdated = time.Now()
	a.err = nil
}

func main() {
	addr := flag.String("addr", "http://127.0.0.1:8090/status", "dflowd status endpoint URL")
	poll := flag.Duration("poll", 2*time.Second, "refresh interval")
	flag.Parse()

	state := &appState{statusURL: *addr, client: &http.Client{Timeout: 5 * time.Second}, autoRefresh: true}
	state.refresh()

	app := tview.NewApplication()

	header := tview.NewTextView().
		SetTextAlign(tview.AlignCenter).
		SetDynamicColors(true).
		SetText("[yellow]dflow replication dashboard[-]")

	statsPanel := tview.NewTextView()
	statsPanel.SetDynamicColors(true)
	statsPanel.SetBorder(true)
	statsPanel.SetTitle(" Throughput / Position ")

	table := tview.NewTable().
		SetBorders(false).
		SetSelectable(true, false).
		SetFixed(1, 0)

	headers := []string{"Schema", "Table", "ID Columns", "Columns"}
	for i, h := range headers {
		table.SetCell(0, i, tview.NewTableCell(h).
			SetTextColor(tcell.ColorYellow).
			SetAlign(tview.AlignLeft).
			SetSelectable(false))
	}

	footer := tview.NewTextView().
		SetDynamicColors(true).
		SetText("[yellow]F5[-] Refresh | [yellow]F10[-] Toggle auto-refresh | [yellow]Q/Esc[-] Quit")

	render := func() {
		s := state.last

		statusLine := "ok"
		if state.err != nil {
			statusLine = "[red]" + state.err.Error() + "[-]"
		}
		lastRef := "never"
		if !state.lastUpdated.IsZero() {
			lastRef = state.lastUpdated.Format("15:04:05")
		}
		auto := "OFF"
		if state.autoRefresh {
			auto = "ON"
		}
		statsPanel.SetText(fmt.Sprintf(
			"[white]Rows sunk:[-] %d   [white]Rows/sec:[-] %.1f\n[white]Position:[-] %s\n[white]Auto-refresh:[-] %s   [white]Last poll:[-] %s   [white]Status:[-] %s",
			s.RowsSunk, s.RowsPerSec, s.Position, auto, lastRef, statusLine,
		))

		for row := table.GetRowCount() - 1; row > 0; row-- {
			table.RemoveRow(row)
		}
		for i, t := range s.Tables {
			row := i + 1
			idCols := "-"
			if len(t.IDCols) > 0 {
				idCols = fmt.Sprintf("%v", t.IDCols)
			}
			table.SetCell(row, 0, tview.NewTableCell(t.Schema))
			table.SetCell(row, 1, tview.NewTableCell(t.Table))
			table.SetCell(row, 2, tview.NewTableCell(idCols))
			table.SetCell(row, 3, tview.NewTableCell(fmt.Sprintf("%d", t.NumCol)))
		}

		app.Draw()
	}

	flex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(header, 1, 0, false).
		AddItem(statsPanel, 4, 0, false).
		AddItem(table, 0, 1, true).
		AddItem(footer, 1, 0, false)

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(*poll)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if state.autoRefresh {
					state.refresh()
					app.QueueUpdateDraw(render)
				}
			case <-stop:
				return
			}
		}
	}()

	table.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyF5:
			state.refresh()
			render()
			return nil
		case tcell.KeyF10:
			state.autoRefresh = !state.autoRefresh
			render()
			return nil
		case tcell.KeyEscape:
			close(stop)
			app.Stop()
			return nil
		}
		if event.Rune() == 'q' || event.Rune() == 'Q' {
			close(stop)
			app.Stop()
			return nil
		}
		return event
	})

	render()

	if err := app.SetRoot(flex, true).EnableMouse(true).Run(); err != nil {
		log.Fatalf("dflowtop: %v", err)
	}
}
