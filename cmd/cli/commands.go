package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/gofrs/uuid/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/and161185/gk-unlock/internal/config"
	"github.com/and161185/gk-unlock/internal/errs"
	"github.com/and161185/gk-unlock/internal/logging"
	"github.com/and161185/gk-unlock/internal/model"
)

// session outlives single commands so the shell keeps one memory tier.
type session struct {
	cfg  config.Client
	in   *bufio.Reader
	out  io.Writer
	app  *app
	open func(ctx context.Context, s *session) (*app, error)
}

func newSession(cfg config.Client, in *bufio.Reader, out io.Writer) *session {
	return &session{cfg: cfg, in: in, out: out, open: openConfigured}
}

func openConfigured(ctx context.Context, s *session) (*app, error) {
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}
	log, err := logging.New(s.cfg.LogLevel, false)
	if err != nil {
		return nil, err
	}
	return openApp(ctx, s.cfg, log, s.in, s.out)
}

func (s *session) ensure(ctx context.Context) (*app, error) {
	if s.app != nil {
		return s.app, nil
	}
	a, err := s.open(ctx, s)
	if err != nil {
		return nil, err
	}
	s.app = a
	return a, nil
}

func (s *session) shutdown() {
	if s.app != nil && s.app.close != nil {
		s.app.close()
	}
	s.app = nil
}

func ok(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, color.GreenString("✓")+" "+fmt.Sprintf(format, args...))
}

func newRootCmd(s *session) *cobra.Command {
	root := &cobra.Command{
		Use:           "gk",
		Short:         "gk - account login, vault lock and PIN unlock",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(s.out)
	root.SetIn(s.in)
	s.cfg.BindFlags(root.PersistentFlags())

	root.AddCommand(
		versionCmd(),
		registerCmd(s),
		loginCmd(s),
		unlockCmd(s),
		lockCmd(s),
		logoutCmd(s),
		statusCmd(s),
		kdfCmd(s),
		pinCmd(s),
		shellCmd(s),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the client version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gk %s (%s)\n", version, buildDate)
		},
	}
}

type kdfFlags struct {
	kind        string
	iterations  int
	memory      int
	parallelism int
}

func (f *kdfFlags) bind(cmd *cobra.Command, def model.KdfConfig) {
	kind := "pbkdf2"
	if def.Type == model.KdfTypeArgon2id {
		kind = "argon2id"
	}
	cmd.Flags().StringVar(&f.kind, "kdf", kind, "key derivation: pbkdf2 or argon2id")
	cmd.Flags().IntVar(&f.iterations, "iterations", def.Iterations, "KDF iterations")
	cmd.Flags().IntVar(&f.memory, "memory", def.Memory, "argon2id memory in MiB")
	cmd.Flags().IntVar(&f.parallelism, "parallelism", def.Parallelism, "argon2id parallelism")
}

func (f kdfFlags) config() (model.KdfConfig, error) {
	switch strings.ToLower(f.kind) {
	case "pbkdf2", "pbkdf2_sha256":
		return model.KdfConfig{Type: model.KdfTypePBKDF2SHA256, Iterations: f.iterations}, nil
	case "argon2", "argon2id":
		k := model.KdfConfig{Type: model.KdfTypeArgon2id, Iterations: f.iterations, Memory: f.memory, Parallelism: f.parallelism}
		// pbkdf2 defaults make no sense for argon2id
		if k.Iterations > model.Argon2MaxIterations {
			k.Iterations = 3
		}
		if k.Memory == 0 {
			k.Memory = 64
		}
		if k.Parallelism == 0 {
			k.Parallelism = 4
		}
		return k, nil
	}
	return model.KdfConfig{}, fmt.Errorf("%w: unknown kdf %q", errs.ErrInvalidArgument, f.kind)
}

func registerCmd(s *session) *cobra.Command {
	var (
		username string
		kf       kdfFlags
	)
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := s.ensure(cmd.Context())
			if err != nil {
				return err
			}
			kdf, err := kf.config()
			if err != nil {
				return err
			}
			if username == "" {
				if username, err = readLine(a.in, a.out, "Username: "); err != nil {
					return err
				}
			}
			pw, err := a.newSecret("Master password: ", "Repeat master password: ")
			if err != nil {
				return err
			}
			id, err := a.accounts.Register(cmd.Context(), username, pw, kdf)
			if err != nil {
				return err
			}
			ok(a.out, "registered %s (%s)", color.CyanString(username), id)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "username")
	kf.bind(cmd, model.DefaultKdfConfig())
	return cmd
}

func loginCmd(s *session) *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and unlock",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := s.ensure(cmd.Context())
			if err != nil {
				return err
			}
			if username == "" {
				if username, err = readLine(a.in, a.out, "Username: "); err != nil {
					return err
				}
			}
			pw, err := a.readSecret("Master password: ")
			if err != nil {
				return err
			}
			id, err := a.accounts.Login(cmd.Context(), username, pw)
			if err != nil {
				return err
			}
			ok(a.out, "logged in as %s (%s)", color.CyanString(username), id)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "username")
	return cmd
}

func unlockCmd(s *session) *cobra.Command {
	var withPin bool
	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Unlock with the master password or PIN",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, id, err := s.activeUser(cmd.Context())
			if err != nil {
				return err
			}
			if withPin {
				return a.unlockWithPin(cmd.Context(), id)
			}
			pw, err := a.readSecret("Master password: ")
			if err != nil {
				return err
			}
			if err := a.lock.UnlockWithMasterPassword(cmd.Context(), id, pw); err != nil {
				return err
			}
			ok(a.out, "unlocked")
			return nil
		},
	}
	cmd.Flags().BoolVar(&withPin, "pin", false, "unlock with the PIN")
	return cmd
}

func (a *app) unlockWithPin(ctx context.Context, id uuid.UUID) error {
	avail, err := a.pins.IsPinDecryptionAvailable(ctx, id)
	if err != nil {
		return err
	}
	if !avail {
		return errs.ErrPinUnavailable
	}
	pin, err := a.readSecret("PIN: ")
	if err != nil {
		return err
	}
	if err := a.lock.UnlockWithPin(ctx, id, pin); err != nil {
		return err
	}
	ok(a.out, "unlocked with PIN")
	return nil
}

func lockCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "lock",
		Short: "Drop the user key from memory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, id, err := s.activeUser(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.lock.Lock(cmd.Context(), id); err != nil {
				return err
			}
			ok(a.out, "locked")
			return nil
		},
	}
}

func logoutCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log out and forget all local key material",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := s.ensure(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.accounts.Logout(cmd.Context()); err != nil {
				return err
			}
			ok(a.out, "logged out")
			return nil
		},
	}
}

func statusCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the active user, lock state and PIN setup",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := s.ensure(cmd.Context())
			if err != nil {
				return err
			}
			id, err := a.tokens.ActiveUser(cmd.Context())
			if errors.Is(err, errs.ErrNotFound) {
				fmt.Fprintln(a.out, "  Status:  "+color.YellowString(model.LockStatusLoggedOut.String()))
				return nil
			}
			if err != nil {
				return err
			}
			st, err := a.lock.Status(cmd.Context(), id)
			if err != nil {
				return err
			}
			lt, err := a.pinState.PinLockType(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, "  User:    "+color.CyanString(id.String()))
			fmt.Fprintln(a.out, "  Status:  "+color.YellowString(st.String()))
			fmt.Fprintln(a.out, "  PIN:     "+color.CyanString(lt.String()))
			if kdf, err := a.master.KdfConfig(cmd.Context(), id); err == nil && kdf != nil {
				fmt.Fprintf(a.out, "  KDF:     %s iterations=%d memory=%d parallelism=%d\n",
					kdf.Type, kdf.Iterations, kdf.Memory, kdf.Parallelism)
			}
			return nil
		},
	}
}

func kdfCmd(s *session) *cobra.Command {
	var kf kdfFlags
	cmd := &cobra.Command{
		Use:   "kdf",
		Short: "Change the key derivation parameters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, id, err := s.activeUser(cmd.Context())
			if err != nil {
				return err
			}
			kdf, err := kf.config()
			if err != nil {
				return err
			}
			pw, err := a.readSecret("Master password: ")
			if err != nil {
				return err
			}
			if err := a.kdf.UpdateUserKdfParams(cmd.Context(), pw, &kdf, id); err != nil {
				return err
			}
			ok(a.out, "kdf updated to %s", kdf.Type)
			return nil
		},
	}
	kf.bind(cmd, model.DefaultKdfConfig())
	return cmd
}

func pinCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pin",
		Short: "Manage PIN unlock",
	}

	var persistent bool
	set := &cobra.Command{
		Use:   "set",
		Short: "Enable PIN unlock (needs an unlocked vault)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, id, err := s.activeUser(cmd.Context())
			if err != nil {
				return err
			}
			pin, err := a.newSecret("New PIN: ", "Repeat PIN: ")
			if err != nil {
				return err
			}
			lt := model.PinLockTypeEphemeral
			if persistent {
				lt = model.PinLockTypePersistent
			}
			if err := a.pins.SetPin(cmd.Context(), id, pin, lt); err != nil {
				return err
			}
			ok(a.out, "PIN set (%s)", lt)
			return nil
		},
	}
	set.Flags().BoolVar(&persistent, "persistent", false, "keep the PIN envelope across restarts")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the PIN lock type",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, id, err := s.activeUser(cmd.Context())
			if err != nil {
				return err
			}
			lt, err := a.pinState.PinLockType(cmd.Context(), id)
			if err != nil {
				return err
			}
			avail, err := a.pins.IsPinDecryptionAvailable(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, "  Lock type: "+color.CyanString(lt.String()))
			fmt.Fprintf(a.out, "  Usable:    %t\n", avail)
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Disable PIN unlock",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, id, err := s.activeUser(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.pins.UnsetPin(cmd.Context(), id); err != nil {
				return err
			}
			ok(a.out, "PIN cleared")
			return nil
		},
	}

	unlock := &cobra.Command{
		Use:   "unlock",
		Short: "Unlock with the PIN",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, id, err := s.activeUser(cmd.Context())
			if err != nil {
				return err
			}
			return a.unlockWithPin(cmd.Context(), id)
		},
	}

	cmd.AddCommand(set, status, clearCmd, unlock)
	return cmd
}

func (s *session) activeUser(ctx context.Context) (*app, uuid.UUID, error) {
	a, err := s.ensure(ctx)
	if err != nil {
		return nil, uuid.Nil, err
	}
	id, err := a.tokens.ActiveUser(ctx)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("not logged in: %w", err)
	}
	return a, id, nil
}

// newSecret asks twice and insists both answers match.
func (a *app) newSecret(prompt, repeat string) (string, error) {
	first, err := a.readSecret(prompt)
	if err != nil {
		return "", err
	}
	second, err := a.readSecret(repeat)
	if err != nil {
		return "", err
	}
	if first != second {
		return "", fmt.Errorf("%w: entries do not match", errs.ErrInvalidArgument)
	}
	return first, nil
}

func shellCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive session that keeps the vault unlocked between commands",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := s.ensure(cmd.Context())
			if err != nil {
				return err
			}
			return runShell(cmd.Context(), s, a)
		},
	}
}

func runShell(ctx context.Context, s *session, a *app) error {
	fmt.Fprintln(a.out, color.CyanString("gk shell")+": type help for commands, exit to leave")
	for {
		line, err := readLine(a.in, a.out, "gk ["+s.prompt(ctx)+"]> ")
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(a.out)
			return nil
		}
		if err != nil {
			return err
		}
		args := strings.Fields(line)
		if len(args) == 0 {
			continue
		}
		switch args[0] {
		case "exit", "quit":
			return nil
		case "shell":
			fmt.Fprintln(a.out, "already in a shell")
			continue
		}
		root := newRootCmd(s)
		root.SetArgs(args)
		if err := root.ExecuteContext(ctx); err != nil {
			a.log.Debug("shell command failed", zap.String("cmd", args[0]), zap.Error(err))
			fmt.Fprintln(a.out, color.RedString("✗")+" "+err.Error())
		}
	}
}

// prompt is the lock status shown in the shell prompt.
func (s *session) prompt(ctx context.Context) string {
	a := s.app
	id, err := a.tokens.ActiveUser(ctx)
	if err != nil {
		return model.LockStatusLoggedOut.String()
	}
	st, err := a.lock.Status(ctx, id)
	if err != nil {
		return "?"
	}
	return st.String()
}
