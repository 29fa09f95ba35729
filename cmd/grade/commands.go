package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/Mirai3103/quiz-grader/internal/deps"
	quizservice "github.com/Mirai3103/quiz-grader/internal/httpapi/quiz"
	"github.com/Mirai3103/quiz-grader/internal/models"
	"github.com/Mirai3103/quiz-grader/internal/session"
)

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "grade",
		Usage: "Grade a source file locally or through the runner fleet",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Extra directory to search for config.yaml.",
			},
		},
		Commands: []*cli.Command{
			newRunCommand(),
			newSubmitCommand(),
			newSessionCommand(),
		},
	}
}

func submissionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "language",
			Aliases:  []string{"l"},
			Usage:    "Submission language (python or java).",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "file",
			Aliases:  []string{"f"},
			Usage:    "Source file to grade, - for stdin.",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "mode",
			Usage: "harness calls the entry function per case, program feeds each input on stdin.",
			Value: string(models.ModeHarness),
		},
		&cli.StringSliceFlag{
			Name:  "case",
			Usage: "Test case as input=expected. Repeatable. Defaults to the square question.",
		},
		&cli.StringFlag{
			Name:  "expected",
			Usage: "Expected output for program mode when no cases are given.",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Print the result as JSON instead of text lines.",
		},
	}
}

func newRunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Grade on this machine with the configured sandbox",
		Flags: submissionFlags(),
		Action: func(ctx context.Context, c *cli.Command) error {
			req, err := requestFromFlags(c, os.Stdin)
			if err != nil {
				return err
			}
			cfg, err := deps.Config(configPaths(c)...)
			if err != nil {
				return err
			}
			logger, err := deps.Logger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()
			grader, err := deps.Grader(cfg, logger)
			if err != nil {
				return err
			}

			var result models.GradeResult
			if req.Mode == models.ModeProgram {
				result = grader.GradeProgram(ctx, req.Submission, req.TestCases, req.ExpectedOutput)
			} else {
				result = grader.Grade(ctx, req.Submission, req.TestCases)
			}
			return printResult(os.Stdout, result, c.Bool("json"))
		},
	}
}

func newSubmitCommand() *cli.Command {
	flags := append(submissionFlags(), &cli.DurationFlag{
		Name:  "timeout",
		Usage: "How long to wait for a runner to reply.",
		Value: 2 * time.Minute,
	})
	return &cli.Command{
		Name:  "submit",
		Usage: "Send the submission to a runner over NATS and wait for the verdict",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			req, err := requestFromFlags(c, os.Stdin)
			if err != nil {
				return err
			}
			cfg, err := deps.Config(configPaths(c)...)
			if err != nil {
				return err
			}
			logger, err := deps.Logger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()
			nc, err := deps.NATS(cfg.NATS, logger)
			if err != nil {
				return err
			}
			defer nc.Close()

			data, err := json.Marshal(req)
			if err != nil {
				return fmt.Errorf("marshal request: %w", err)
			}
			ctx, cancel := context.WithTimeout(ctx, c.Duration("timeout"))
			defer cancel()
			msg, err := nc.RequestWithContext(ctx, cfg.NATS.GradeRequestSubject, data)
			if err != nil {
				return fmt.Errorf("request grading: %w", err)
			}
			var resp models.GradeResponse
			if err := json.Unmarshal(msg.Data, &resp); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			return printResult(os.Stdout, resp.Result, c.Bool("json"))
		},
	}
}

func newSessionCommand() *cli.Command {
	return &cli.Command{
		Name:  "session",
		Usage: "Issue or revoke a quiz session token in Redis",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "roll-no",
				Usage: "Roll number to issue a session for.",
			},
			&cli.StringFlag{
				Name:  "revoke",
				Usage: "Session token to revoke.",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			rollNo, revoke := c.String("roll-no"), c.String("revoke")
			if (rollNo == "") == (revoke == "") {
				return errors.New("exactly one of --roll-no or --revoke is required")
			}
			cfg, err := deps.Config(configPaths(c)...)
			if err != nil {
				return err
			}
			client, err := session.NewRedisClient(ctx, cfg.Redis)
			if err != nil {
				return err
			}
			defer client.Close()
			store := session.NewRedisStore(client, time.Duration(cfg.Redis.SessionTTLMin)*time.Minute)

			if revoke != "" {
				if err := store.Delete(ctx, revoke); err != nil {
					return err
				}
				fmt.Println("Session revoked.")
				return nil
			}
			token, err := store.Create(ctx, rollNo)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
}

func configPaths(c *cli.Command) []string {
	if dir := c.String("config"); dir != "" {
		return []string{dir}
	}
	return nil
}

// requestFromFlags builds a GradeRequest from the submission flags; stdin is
// read when --file is "-".
func requestFromFlags(c *cli.Command, stdin io.Reader) (models.GradeRequest, error) {
	var (
		code []byte
		err  error
	)
	if path := c.String("file"); path == "-" {
		code, err = io.ReadAll(stdin)
	} else {
		code, err = os.ReadFile(path)
	}
	if err != nil {
		return models.GradeRequest{}, fmt.Errorf("read source: %w", err)
	}

	mode := models.GradeMode(c.String("mode"))
	if mode != models.ModeHarness && mode != models.ModeProgram {
		return models.GradeRequest{}, fmt.Errorf("unknown mode %q", mode)
	}

	cases, err := parseCases(c.StringSlice("case"))
	if err != nil {
		return models.GradeRequest{}, err
	}
	if len(cases) == 0 && mode == models.ModeHarness {
		cases = quizservice.SquareCases
	}

	return models.GradeRequest{
		Submission: models.Submission{
			ID:       uuid.NewString(),
			Language: models.Language(c.String("language")),
			Code:     string(code),
		},
		TestCases:      cases,
		Mode:           mode,
		ExpectedOutput: c.String("expected"),
	}, nil
}

func parseCases(raw []string) ([]models.TestCase, error) {
	cases := make([]models.TestCase, 0, len(raw))
	for i, r := range raw {
		input, expected, ok := strings.Cut(r, "=")
		if !ok {
			return nil, fmt.Errorf("case %q: want input=expected", r)
		}
		cases = append(cases, models.TestCase{
			ID:             fmt.Sprint(i + 1),
			Input:          input,
			ExpectedOutput: expected,
		})
	}
	return cases, nil
}

var errNotAllPassed = errors.New("not all test cases passed")

// printResult writes the verdict and returns errNotAllPassed on failure so
// the exit status reflects it.
func printResult(w io.Writer, result models.GradeResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		for _, line := range result.Lines() {
			fmt.Fprintln(w, line)
		}
	}
	if !result.Success {
		return errNotAllPassed
	}
	return nil
}
