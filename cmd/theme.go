package cmd

import (
	"charm.land/lipgloss/v2"
)

type Palette struct {
	BgMain     string
	BgDanger   string
	BgSuccess  string
	BgWarning  string
	LabelFaint string
	LabelBase  string
	LabelTitle string
}

var ColorPalette = Palette{
	BgMain:     "#655add",
	BgDanger:   "#d74249",
	BgSuccess:  "#5bb856",
	BgWarning:  "#e59c57",
	LabelFaint: "#adadad",
	LabelBase:  "#383838",
	LabelTitle: "#141414",
}

var (
	titleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorPalette.BgMain)).Bold(true)
	dangerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorPalette.BgDanger)).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorPalette.BgSuccess))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorPalette.BgWarning))
	faintStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorPalette.LabelFaint))
)

func OkSymbol() string {
	if IsConhost() {
		return successStyle.Render("OK")
	}
	return successStyle.Render("✔︎")
}

func ErrSymbol() string {
	if IsConhost() {
		return dangerStyle.Render("ERR")
	}
	return dangerStyle.Render("✗")
}

func UnknownSymbol() string {
	if IsConhost() {
		return warningStyle.Render("?")
	}
	return warningStyle.Render("!")
}

func InfoSymbol() string {
	if IsConhost() {
		return faintStyle.Render("-")
	}
	return faintStyle.Render("•")
}
