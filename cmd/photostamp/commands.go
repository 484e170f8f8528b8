package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pribylovaa/photostamp-session/internal/models"
	"github.com/pribylovaa/photostamp-session/internal/service"
	"github.com/pribylovaa/photostamp-session/internal/storage/minio"
	"github.com/pribylovaa/photostamp-session/internal/upload"
)

// rootOptions — глобальные флаги.
type rootOptions struct {
	configPath string
	jsonOutput bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "photostamp",
		Short: "Session client for the photostamp API",
		Long: `photostamp manages the authenticated session of the photostamp API:
social login, token renewal, nickname, logout, account withdrawal and
presigned photo uploads.

Configuration priority: --config, CONFIG_PATH, ./local.yaml, environment.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file (overrides CONFIG_PATH env)")
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "print results as JSON")

	root.AddCommand(
		newLoginCmd(opts),
		newStatusCmd(opts),
		newRefreshCmd(opts),
		newNicknameCmd(opts),
		newLogoutCmd(opts),
		newWithdrawCmd(opts),
		newUploadCmd(opts),
	)

	return root
}

// run собирает app, выполняет fn и освобождает ресурсы.
// SIGINT/SIGTERM отменяют контекст команды.
func run(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app) (any, error)) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, opts.configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := fn(ctx, a)
	if err != nil {
		if f, ok := service.AsFailure(err); ok {
			return fmt.Errorf("%s failed (%s): %s", cmd.Name(), f.Kind, f.Message)
		}

		return err
	}

	return render(cmd.OutOrStdout(), opts.jsonOutput, out)
}

// render печатает результат: JSON или строку из fmt.Stringer/текста.
func render(w io.Writer, asJSON bool, v any) error {
	if v == nil {
		return nil
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	switch x := v.(type) {
	case fmt.Stringer:
		_, err := fmt.Fprintln(w, x.String())
		return err
	case string:
		_, err := fmt.Fprintln(w, x)
		return err
	default:
		_, err := fmt.Fprintf(w, "%+v\n", x)
		return err
	}
}

func newLoginCmd(opts *rootOptions) *cobra.Command {
	var provider, token string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with a social provider token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts, func(ctx context.Context, a *app) (any, error) {
				resp, err := a.repo.Login(ctx, provider, token)
				if err != nil {
					return nil, err
				}

				return loginView{
					UserID:       resp.UserID,
					Nickname:     resp.Nickname,
					IsNewUser:    resp.IsNewUser,
					NeedNickname: resp.NeedNickname,
				}, nil
			})
		},
	}

	cmd.Flags().StringVar(&provider, "provider", models.SocialKakao, "social provider: KAKAO, NAVER or GOOGLE")
	cmd.Flags().StringVar(&token, "token", "", "access token issued by the social provider")
	_ = cmd.MarkFlagRequired("token")

	return cmd
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the local session state (no network)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts, func(ctx context.Context, a *app) (any, error) {
				creds, ok, err := a.repo.Credentials(ctx)
				if err != nil {
					return nil, err
				}

				st := statusView{Authenticated: ok}
				if !ok {
					return st, nil
				}

				id, _, err := a.repo.Identity(ctx)
				if err != nil {
					return nil, err
				}
				st.UserID = id.UserID
				st.Nickname = id.Nickname

				if exp, known := creds.AccessExpiresAt(); known {
					st.AccessExpiresAt = &exp
				}

				return st, nil
			})
		},
	}
}

func newRefreshCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Rotate the token pair now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts, func(ctx context.Context, a *app) (any, error) {
				if _, err := a.repo.Refresh(ctx); err != nil {
					return nil, err
				}

				return "session renewed", nil
			})
		},
	}
}

func newNicknameCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "nickname <name>",
		Short: "Set the display name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, func(ctx context.Context, a *app) (any, error) {
				resp, err := a.repo.SetNickname(ctx, args[0])
				if err != nil {
					return nil, err
				}

				return fmt.Sprintf("nickname set to %q", resp.Nickname), nil
			})
		},
	}
}

func newLogoutCmd(opts *rootOptions) *cobra.Command {
	var allDevices bool

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Sign out and erase the local session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts, func(ctx context.Context, a *app) (any, error) {
				resp, err := a.repo.Logout(ctx, allDevices)
				if err != nil {
					return nil, err
				}

				return fmt.Sprintf("logged out (%d tokens invalidated)", resp.InvalidatedTokenCount), nil
			})
		},
	}

	cmd.Flags().BoolVar(&allDevices, "all-devices", false, "invalidate sessions on every device")

	return cmd
}

func newWithdrawCmd(opts *rootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "withdraw",
		Short: "Delete the account and erase the local session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("account deletion is irreversible: pass --yes to confirm")
			}

			return run(cmd, opts, func(ctx context.Context, a *app) (any, error) {
				resp, err := a.repo.Withdraw(ctx)
				if err != nil {
					return nil, err
				}

				return fmt.Sprintf("account %s withdrawn", resp.MaskedNickname), nil
			})
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm account deletion")

	return cmd
}

func newUploadCmd(opts *rootOptions) *cobra.Command {
	var (
		presignedURL string
		contentType  string
		expiresIn    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a photo to a presigned URL",
		Long: `Upload PUTs the file without the session bearer token.

With --url the given presigned URL is used. Without it the dev presigner
(s3.endpoint in config) issues one for the current user.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if contentType == "" {
				contentType = mime.TypeByExtension(filepath.Ext(path))
			}

			return run(cmd, opts, func(ctx context.Context, a *app) (any, error) {
				p, err := presign(ctx, a, path, presignedURL, contentType, expiresIn)
				if err != nil {
					return nil, err
				}

				if err := upload.New(a.gw.Upload()).UploadFile(ctx, *p, path); err != nil {
					return nil, err
				}

				return "uploaded " + p.Key, nil
			})
		},
	}

	cmd.Flags().StringVar(&presignedURL, "url", "", "presigned PUT URL issued by the API")
	cmd.Flags().StringVar(&contentType, "content-type", "", "content type (detected from extension by default)")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "remaining validity of --url (0 = unknown)")

	return cmd
}

// presign возвращает загрузку по явному URL или выпускает её dev-подписчиком.
func presign(ctx context.Context, a *app, path, rawURL, contentType string, expiresIn time.Duration) (*models.PresignedUpload, error) {
	if rawURL != "" {
		p := &models.PresignedUpload{URL: rawURL, Key: filepath.Base(path)}
		if contentType != "" {
			p.Headers = map[string]string{"Content-Type": contentType}
		}
		if expiresIn > 0 {
			p.ExpiresAt = time.Now().Add(expiresIn).UTC()
		}

		return p, nil
	}

	if a.cfg.S3.Endpoint == "" {
		return nil, errors.New("either --url or s3.endpoint is required")
	}

	id, ok, err := a.repo.Identity(ctx)
	if err != nil {
		return nil, err
	}
	if !ok || id.UserID == 0 {
		return nil, errors.New("login first: the dev presigner needs a user id")
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	signer, err := minio.New(ctx, a.cfg.S3)
	if err != nil {
		return nil, err
	}

	return signer.PresignUpload(ctx, id.UserID, contentType, info.Size())
}

// loginView — результат входа без токенов: они остаются только в хранилище.
type loginView struct {
	UserID       int64  `json:"userId"`
	Nickname     string `json:"nickname,omitempty"`
	IsNewUser    bool   `json:"isNewUser"`
	NeedNickname bool   `json:"needNickname"`
}

func (v loginView) String() string {
	s := fmt.Sprintf("logged in as user %d", v.UserID)
	if v.Nickname != "" {
		s += fmt.Sprintf(" (%s)", v.Nickname)
	}
	if v.NeedNickname {
		s += "; set a nickname with `photostamp nickname <name>`"
	}

	return s
}

type statusView struct {
	Authenticated   bool       `json:"authenticated"`
	UserID          int64      `json:"userId,omitempty"`
	Nickname        string     `json:"nickname,omitempty"`
	AccessExpiresAt *time.Time `json:"accessExpiresAt,omitempty"`
}

func (v statusView) String() string {
	if !v.Authenticated {
		return "not logged in"
	}

	exp := "unknown"
	if v.AccessExpiresAt != nil {
		exp = v.AccessExpiresAt.Format(time.RFC3339)
	}

	return fmt.Sprintf("logged in as user %d (%s), access token expires: %s", v.UserID, v.Nickname, exp)
}
