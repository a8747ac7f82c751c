// Package realpicker provides terminal prompts built on huh.
package realpicker

import (
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/huh"

	"github.com/acolita/ashell-monkey/internal/ports"
)

var (
	// ErrNoPorts is returned when there is nothing to pick from.
	ErrNoPorts = errors.New("no serial ports detected")

	// ErrCancelled is returned when the operator aborts a prompt.
	ErrCancelled = errors.New("cancelled")
)

// Picker implements ports.PortPicker and ports.SecretPrompter with huh forms.
type Picker struct {
	accessible bool
	in         io.Reader
	out        io.Writer
}

// New creates a Picker on the process terminal.
func New() *Picker {
	return &Picker{}
}

// WithAccessible switches to huh's line-based mode, for screen readers and
// dumb terminals.
func (p *Picker) WithAccessible(accessible bool) *Picker {
	p.accessible = accessible
	return p
}

// WithIO redirects the prompts away from the process terminal.
func (p *Picker) WithIO(in io.Reader, out io.Writer) *Picker {
	p.in = in
	p.out = out
	return p
}

// PickPort lets the operator choose among candidates. A single candidate is
// returned without prompting.
func (p *Picker) PickPort(candidates []string) (string, error) {
	switch len(candidates) {
	case 0:
		return "", ErrNoPorts
	case 1:
		return candidates[0], nil
	}

	choice := candidates[0]
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Device port").
				Description("Serial devices detected on this host").
				Options(huh.NewOptions(candidates...)...).
				Value(&choice),
		),
	)
	if err := p.run(form); err != nil {
		return "", err
	}
	return choice, nil
}

// PromptSecret reads a secret with input masked.
func (p *Picker) PromptSecret(title string) (string, error) {
	var secret string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(title).
				EchoMode(huh.EchoModePassword).
				Validate(func(s string) error {
					if s == "" {
						return errors.New("must not be empty")
					}
					return nil
				}).
				Value(&secret),
		),
	)
	if err := p.run(form); err != nil {
		return "", err
	}
	return secret, nil
}

func (p *Picker) run(form *huh.Form) error {
	form = form.WithAccessible(p.accessible)
	if p.in != nil {
		form = form.WithInput(p.in)
	}
	if p.out != nil {
		form = form.WithOutput(p.out)
	}

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return ErrCancelled
		}
		return fmt.Errorf("prompt: %w", err)
	}
	return nil
}

var (
	_ ports.PortPicker     = (*Picker)(nil)
	_ ports.SecretPrompter = (*Picker)(nil)
)
