package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/MrWong99/careercompass/internal/advisor"
	"github.com/MrWong99/careercompass/internal/conversation"
	"github.com/MrWong99/careercompass/internal/textchat"
	"github.com/MrWong99/careercompass/internal/voice"
)

const consoleHelp = `Commands:
  /voice [persona]   start a voice session (default: current persona)
  /stop              end the voice session
  /persona [name]    show or select the advisor persona
  /personas          list personas
  /mode [type]       show or select the audience: jobseeker or recruiter
  /greet             ask the advisor to open the typed chat
  /history           print the typed chat
  /clear             clear both transcripts
  /status            show the session state
  /quit              exit
Any other line is sent to the advisor as a chat message.
`

// console is the line-oriented front end. Output from concurrent requests,
// notifications and voice transcripts is serialised through printf.
type console struct {
	app *App
	in  io.Reader

	mu  sync.Mutex
	out io.Writer

	// printed and turn are only touched from the voice subscriber.
	printed int
	turn    conversation.TurnState

	wg sync.WaitGroup
}

func newConsole(a *App, in io.Reader, out io.Writer) *console {
	return &console{app: a, in: in, out: out}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func (c *console) notify(n conversation.Notification) {
	c.printf("[%s] %s\n", n.Level, n.Message)
}

func (c *console) printEntry(e conversation.Entry) {
	who := "advisor"
	if e.Role == conversation.RoleUser {
		who = "you"
	}
	c.printf("%s> %s\n", who, e.Content)
}

// run reads commands until EOF, /quit or ctx is done. Requests started from
// the console are cancelled and awaited before run returns.
func (c *console) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer c.wg.Wait()
	defer cancel()

	unsubscribe := c.app.voice.Subscribe(c.voiceChanged)
	defer unsubscribe()

	// The scanner goroutine blocks in Read and cannot be interrupted; it
	// exits with the process or at the next line after cancellation.
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	c.printf("careercompass: talking to your %s advisor as a %s. Type /help for commands.\n",
		c.app.Persona(), c.app.UserType())
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if c.handle(ctx, line) {
				return nil
			}
		}
	}
}

// voiceChanged prints new transcript entries and turn changes.
func (c *console) voiceChanged(s conversation.State) {
	if len(s.Messages) < c.printed {
		c.printed = 0
	}
	for _, e := range s.Messages[c.printed:] {
		c.printEntry(e)
	}
	c.printed = len(s.Messages)

	turn := s.Turn()
	if turn != c.turn {
		c.turn = turn
		if s.Connected {
			c.printf("  (%s)\n", turn)
		}
	}
}

// handle executes one input line and reports whether the console should quit.
func (c *console) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		c.send(ctx, line)
		return false
	}

	cmd, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(cmd) {
	case "help", "?":
		c.printf("%s", consoleHelp)
	case "voice", "start":
		c.startVoice(ctx, arg)
	case "stop":
		c.app.voice.Stop()
	case "persona":
		c.persona(arg)
	case "personas":
		current := c.app.Persona()
		for _, p := range advisor.Personas() {
			mark := " "
			if p.ID == current {
				mark = "*"
			}
			c.printf("%s %-8s %s\n", mark, p.ID, p.Description)
		}
	case "mode":
		c.mode(arg)
	case "greet":
		c.greet(ctx)
	case "history":
		for _, e := range c.app.chat.Messages() {
			c.printEntry(e)
		}
	case "clear":
		c.app.chat.Clear()
		c.app.voice.ClearMessages()
		c.printf("transcripts cleared\n")
	case "status":
		s := c.app.Status()
		c.printf("voice: %s (%s), %d messages; chat: %d messages, loading=%t; persona %s, %s\n",
			s.Voice.Status, s.Voice.Turn, s.Voice.Messages, s.Chat.Messages, s.Chat.Loading, s.Persona, s.UserType)
	case "quit", "exit":
		return true
	default:
		c.printf("unknown command /%s, try /help\n", cmd)
	}
	return false
}

func (c *console) startVoice(ctx context.Context, arg string) {
	persona := c.app.Persona()
	if arg != "" {
		p, err := advisor.ParsePersona(arg)
		if err != nil {
			c.printf("%v\n", err)
			return
		}
		persona = p
	}
	mode := c.app.UserType()
	c.printf("connecting to %s...\n", persona)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		// Failures other than a concurrent start are already reported
		// through the notifier.
		if err := c.app.voice.Start(ctx, persona, mode); errors.Is(err, voice.ErrSessionActive) {
			c.printf("a voice session is already active, /stop it first\n")
		}
	}()
}

func (c *console) persona(arg string) {
	if arg == "" {
		c.printf("persona: %s\n", c.app.Persona())
		return
	}
	p, err := advisor.ParsePersona(arg)
	if err != nil {
		c.printf("%v\n", err)
		return
	}
	c.app.SetPersona(p)
	c.printf("persona: %s (next voice session)\n", p)
}

func (c *console) mode(arg string) {
	if arg == "" {
		c.printf("audience: %s\n", c.app.UserType())
		return
	}
	u, err := advisor.ParseUserType(arg)
	if err != nil {
		c.printf("%v\n", err)
		return
	}
	c.app.SetUserType(u)
	c.printf("audience: %s\n", u)
}

func (c *console) greet(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := c.app.chatContext(ctx)
		defer cancel()
		entry, err := c.app.chat.Initiate(ctx, c.app.UserType())
		if err == nil && entry.Content != "" {
			c.printEntry(entry)
		}
	}()
}

func (c *console) send(ctx context.Context, text string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := c.app.chatContext(ctx)
		defer cancel()
		entry, err := c.app.chat.Send(ctx, text)
		switch {
		case errors.Is(err, textchat.ErrBusy):
			c.printf("still waiting for the previous reply\n")
		case err == nil && entry.Content != "":
			c.printEntry(entry)
		}
	}()
}
