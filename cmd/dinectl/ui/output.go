package ui

import (
	"fmt"

	"github.com/charmbracelet/huh"

	"github.com/simphiwe-mabaso/family-dining/internal/user"
)

// Confirm asks a yes/no question and defaults to no.
func Confirm(title, description string) (bool, error) {
	var ok bool
	err := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		WithTheme(huh.ThemeCatppuccin()).
		Run()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func PrintTitle(msg string) {
	fmt.Println(titleStyle.Render(msg))
}

func PrintSuccess(msg string) {
	fmt.Println(successStyle.Render(msg))
}

func PrintWarning(msg string) {
	fmt.Println(warnStyle.Render(msg))
}

func PrintError(msg string) {
	fmt.Println(errorStyle.Render("Error: " + msg))
}

// PrintUser prints the account fields an operator needs to confirm a target.
func PrintUser(u *user.User) {
	status := "active"
	if !u.IsActive {
		status = "disabled"
	}
	fmt.Printf("  Email:  %s\n", u.Email)
	fmt.Printf("  Name:   %s %s\n", u.FirstName, u.LastName)
	fmt.Printf("  Status: %s\n", status)
	fmt.Println(subtleStyle.Render("  ID:     " + u.ID.String()))
}
