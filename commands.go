package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/briandowns/spinner"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

func newSpinner(prefix string) *spinner.Spinner {
	s := spinner.New(spinner.CharSets[11], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Prefix = prefix
	return s
}

// setSpinnerPrefix updates the label of a running spinner.
func setSpinnerPrefix(s *spinner.Spinner, prefix string) {
	s.Lock()
	s.Prefix = prefix
	s.Unlock()
}

// promptFromCommand returns the prompt renderer selected by --templates-dir.
func promptFromCommand(cmd *cli.Command) *Prompt {
	if dir := cmd.String("templates-dir"); dir != "" {
		return NewPromptFromDir(dir)
	}
	return NewPrompt()
}

// withCLISession loads the configuration, opens a session from the global
// flags and runs fn inside it. The state file is flushed however fn exits.
func withCLISession(ctx context.Context, cmd *cli.Command, failure string, fn func(ctx context.Context, s *Session) error) error {
	// configure logging for application
	configureLogging(cmd.String("log-level"), cmd.String("log-file"))

	cfgPath := cmd.String("config-path")
	log.Debug(fmt.Sprintf("loading configuration from path %s", cfgPath))

	config, err := loadConfig(cfgPath)
	if err != nil {
		log.Debug(fmt.Sprintf("error loading config: %+v", err))
		return cli.Exit("error loading config file", 1)
	}

	client, err := newClientFromConfig(config)
	if err != nil {
		log.Debug(fmt.Sprintf("error building client: %+v", err))
		return cli.Exit("error resolving chatgpt access token", 1)
	}

	options := SessionOptions{
		SaveState:    cmd.Bool("save-state"),
		StateFile:    cmd.String("state-file"),
		Assistant:    assistantConfigFromConfig(config),
		Prompt:       promptFromCommand(cmd),
		PollLimit:    int(cmd.Int("poll-limit")),
		PollInterval: cmd.Duration("poll-interval"),
	}

	if err := WithSession(ctx, client, options, fn); err != nil {
		log.Debug(fmt.Sprintf("%s: %+v", failure, err))
		var gptErr ChatGPTError
		if errors.As(err, &gptErr) {
			log.Debug(fmt.Sprintf("error response: %+v", gptErr.Body))
		}
		return cli.Exit(fmt.Sprintf("%s: %v", failure, err), 1)
	}
	return nil
}

func warnIfNotSaving(s *Session) {
	if !s.SaveState() || s.StateFile() == "" {
		log.Warn("state saving is disabled, changes to the file registry will not persist")
	}
}

func ConfigureCLICommand(ctx context.Context, cmd *cli.Command) error {
	// configure logging for application
	configureLogging(cmd.String("log-level"), cmd.String("log-file"))
	reader := bufio.NewReader(os.Stdin)

	var client *ChatGPTAssistantClient
	// prompt user for ChatGPT access token
	token, err := getCliInput(reader, "Enter ChatGPT access token: ", func(value string) (string, error) {
		credentials := ChatGPTCredentials{
			Secret: value,
		}
		client = NewChatGPTAssistantClient("", credentials)

		// verify provided credentials using client
		if err := client.VerifyCredentials(ctx); err != nil {
			log.Debug(fmt.Sprintf("error validating chatgpt token: %+v", err))
			return "", err
		} else {
			return value, nil
		}
	})

	if err != nil {
		return cli.Exit("error validating chatgpt access token", 1)
	}

	// get model version from CLI and validate by making request to ChatGPT
	// api to get model details using specified ID
	prompt := fmt.Sprintf("Enter ChatGPT model version (default %s): ", DefaultAssistantModel)
	model, err := getCliInput(reader, prompt, func(value string) (string, error) {
		if len(value) == 0 {
			value = DefaultAssistantModel
		}

		if _, err := client.GetModel(ctx, value); err != nil {
			log.Debug(fmt.Sprintf("error validating chatgpt model: %+v", err))
			return "", err
		} else {
			return value, nil
		}
	})

	if err != nil {
		return cli.Exit("error validating chatgpt model", 1)
	}

	useKeyring, _ := getCliInput(reader, "Store access token in the system keyring? (y/N): ", func(value string) (string, error) {
		return strings.ToLower(strings.TrimSpace(value)), nil
	})

	defaultConfigPath := getDefaultConfigPath()
	prompt = fmt.Sprintf("Enter config path (default %s): ", defaultConfigPath)
	// read path from input and remove trailing line break. if no
	// path is provided, use default
	path, _ := getCliInput(reader, prompt, func(value string) (string, error) {
		return value, nil
	})

	if len(path) == 0 {
		path = defaultConfigPath
	}

	config := Config{
		AccessToken:  token,
		ModelVersion: model,
		UseKeyring:   useKeyring == "y" || useKeyring == "yes",
	}

	if config.UseKeyring {
		if err := setCredential(accessTokenCredential, token); err != nil {
			log.Debug(fmt.Sprintf("%+v", err))
			return cli.Exit("error storing access token in keyring", 1)
		}
	}

	if err := writeConfig(config, path); err != nil {
		log.Debug(fmt.Sprintf("%+v", err))
		return cli.Exit(fmt.Sprintf("error writing config file to %s", path), 1)
	}

	return nil
}

// TestCLICommand loads the configuration and checks the credentials and model
// against the API.
func TestCLICommand(ctx context.Context, cmd *cli.Command) error {
	// configure logging for application
	configureLogging(cmd.String("log-level"), cmd.String("log-file"))

	cfgPath := cmd.String("config-path")
	log.Debug(fmt.Sprintf("loading new configuration from path %s", cfgPath))

	config, err := loadConfig(cfgPath)
	if err != nil {
		return cli.Exit("error loading config file", 1)
	}

	client, err := newClientFromConfig(config)
	if err != nil {
		log.Debug(fmt.Sprintf("error resolving access token: %+v", err))
		return cli.Exit("error resolving chatgpt access token", 1)
	}

	if err := client.VerifyCredentials(ctx); err != nil {
		log.Debug(fmt.Sprintf("error verifying chatgpt credentials: %+v", err))
		return cli.Exit("error validating chatgpt credentials", 1)
	}

	_, err = client.GetModel(ctx, config.ModelVersion)
	if err != nil {
		log.Debug(fmt.Sprintf("error fetching model %s from chatgpt api: %+v", config.ModelVersion, err))
		return cli.Exit("error validating chatgpt model", 1)
	}

	fmt.Println("configuration is valid")
	return nil
}

func LogoutCLICommand(ctx context.Context, cmd *cli.Command) error {
	configureLogging(cmd.String("log-level"), cmd.String("log-file"))

	if err := deleteCredential(accessTokenCredential); err != nil {
		log.Debug(fmt.Sprintf("%+v", err))
		return cli.Exit("error removing access token from keyring", 1)
	}
	return nil
}

func StateInitCLICommand(ctx context.Context, cmd *cli.Command) error {
	configureLogging(cmd.String("log-level"), cmd.String("log-file"))

	path := cmd.String("state-file")
	if err := initState(path); err != nil {
		log.Debug(fmt.Sprintf("%+v", err))
		return cli.Exit(fmt.Sprintf("error creating state file: %v", err), 1)
	}
	fmt.Printf("created state file %s\n", path)
	return nil
}

func StateShowCLICommand(ctx context.Context, cmd *cli.Command) error {
	configureLogging(cmd.String("log-level"), cmd.String("log-file"))

	state, err := readState(cmd.String("state-file"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("error reading state file: %v", err), 1)
	}
	if state == nil {
		return cli.Exit("no state file provided", 1)
	}

	data, err := json.MarshalIndent(state, "", "    ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func FilesAddCLICommand(ctx context.Context, cmd *cli.Command) error {
	if cmd.NArg() == 0 {
		return cli.Exit("at least one file or directory is required", 1)
	}

	return withCLISession(ctx, cmd, "error adding files", func(ctx context.Context, s *Session) error {
		warnIfNotSaving(s)

		for _, target := range cmd.Args().Slice() {
			paths := []string{target}
			if isValidDir(target) {
				found, err := findDocuments(target)
				if err != nil {
					return err
				}
				paths = found
			}

			for _, path := range paths {
				added, err := s.Files().Add(path)
				if err != nil {
					return err
				}
				if added {
					fmt.Printf("added %s\n", path)
				} else {
					fmt.Printf("skipped %s (already added)\n", path)
				}
			}
		}
		return nil
	})
}

func FilesListCLICommand(ctx context.Context, cmd *cli.Command) error {
	return withCLISession(ctx, cmd, "error listing files", func(ctx context.Context, s *Session) error {
		writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "NAME\tFILE ID\tUPLOADED\tSIZE\tPATH")
		for _, file := range s.Files().List() {
			fmt.Fprintf(writer, "%s\t%s\t%t\t%d\t%s\n", file.Name(), file.FileId(), file.IsUploaded(), file.Size(), file.Path())
		}
		return writer.Flush()
	})
}

func FilesUploadCLICommand(ctx context.Context, cmd *cli.Command) error {
	return withCLISession(ctx, cmd, "error uploading files", func(ctx context.Context, s *Session) error {
		warnIfNotSaving(s)

		spinner := newSpinner("Uploading files ")
		spinner.Start()
		defer spinner.Stop()

		if cmd.NArg() == 0 {
			return s.Files().UploadAll(ctx)
		}

		for _, name := range cmd.Args().Slice() {
			file, err := s.Files().GetByName(name)
			if err != nil {
				return err
			}
			if err := file.Upload(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

func FilesDeleteCLICommand(ctx context.Context, cmd *cli.Command) error {
	return withCLISession(ctx, cmd, "error deleting files", func(ctx context.Context, s *Session) error {
		warnIfNotSaving(s)

		if cmd.NArg() == 0 {
			return s.Files().DeleteAll(ctx)
		}

		for _, name := range cmd.Args().Slice() {
			file, err := s.Files().GetByName(name)
			if err != nil {
				return err
			}
			if err := file.Delete(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

func FilesRemoveCLICommand(ctx context.Context, cmd *cli.Command) error {
	if cmd.NArg() == 0 {
		return cli.Exit("at least one file name is required", 1)
	}

	return withCLISession(ctx, cmd, "error removing files", func(ctx context.Context, s *Session) error {
		warnIfNotSaving(s)

		for _, name := range cmd.Args().Slice() {
			file, err := s.Files().GetByName(name)
			if err != nil {
				return err
			}
			if err := file.Delete(ctx); err != nil {
				return err
			}
			if err := s.Files().DeleteByName(name); err != nil {
				return err
			}
		}
		return nil
	})
}

func PromptCLICommand(ctx context.Context, cmd *cli.Command) error {
	if cmd.NArg() != 1 {
		return cli.Exit("a single file name is required", 1)
	}

	return withCLISession(ctx, cmd, "error creating prompt", func(ctx context.Context, s *Session) error {
		file, err := s.Files().GetByName(cmd.Args().First())
		if err != nil {
			return err
		}

		if output := cmd.String("output"); output != "" {
			return s.Prompt().WritePrompt(file, output)
		}

		prompt, err := s.Prompt().CreatePrompt(file)
		if err != nil {
			return err
		}
		fmt.Println(prompt)
		return nil
	})
}

// AskCLICommand uploads a document if needed, asks the assistant about it and
// prints the reply. The argument is a registered file name, or a path that is
// registered on the fly.
func AskCLICommand(ctx context.Context, cmd *cli.Command) error {
	if cmd.NArg() != 1 {
		return cli.Exit("a single file name or path is required", 1)
	}

	return withCLISession(ctx, cmd, "error asking assistant", func(ctx context.Context, s *Session) error {
		target := cmd.Args().First()
		file, err := s.Files().GetByName(filepath.Base(target))
		if err != nil {
			if _, statErr := os.Stat(target); statErr != nil {
				return err
			}
			if _, err := s.Files().Add(target); err != nil {
				return err
			}
			if file, err = s.Files().GetByName(filepath.Base(target)); err != nil {
				return err
			}
		}

		spinner := newSpinner(fmt.Sprintf("Uploading %s ", file.Name()))
		spinner.Start()
		defer spinner.Stop()

		if err := file.Upload(ctx); err != nil {
			return err
		}

		message := cmd.String("question")
		if message == "" {
			if message, err = s.Prompt().CreatePrompt(file); err != nil {
				return err
			}
		}

		thread := s.Thread()
		if !cmd.Bool("keep-history") {
			setSpinnerPrefix(spinner, "Clearing thread messages ")
			if err := thread.ClearMessages(ctx); err != nil {
				return err
			}
		}

		if _, err := thread.AddMessage(ctx, RoleUser, message, []FileAttachment{file.Attachment()}); err != nil {
			return err
		}

		setSpinnerPrefix(spinner, "Waiting for the assistant ")
		outcome, err := thread.CreateRun(ctx)
		if err != nil {
			return err
		}
		if outcome.TimedOut() {
			return fmt.Errorf("run %s still %s after %d polls", outcome.Run.Id, outcome.Status(), outcome.Polls)
		}
		if !outcome.Completed() {
			if outcome.Run.LastError != nil {
				return fmt.Errorf("run %s %s: %s", outcome.Run.Id, outcome.Status(), outcome.Run.LastError.Message)
			}
			return fmt.Errorf("run %s %s", outcome.Run.Id, outcome.Status())
		}

		setSpinnerPrefix(spinner, "Downloading reply ")
		messages, err := thread.Messages(ctx)
		if err != nil {
			return err
		}
		spinner.Stop()

		reply, ok := assistantReply(messages, outcome.Run.Id)
		if !ok {
			return fmt.Errorf("run %s produced no assistant message", outcome.Run.Id)
		}
		return printReply(reply, cmd.Bool("raw"))
	})
}

// assistantReply picks the newest assistant message produced by runId,
// falling back to the newest assistant message overall.
func assistantReply(messages []ThreadMessageResponse, runId string) (string, bool) {
	fallback := ""
	found := false
	for _, msg := range messages {
		if msg.Role != string(RoleAssistant) {
			continue
		}
		if msg.RunId == runId {
			return msg.Text(), true
		}
		if !found {
			fallback = msg.Text()
			found = true
		}
	}
	return fallback, found
}

func printReply(reply string, raw bool) error {
	if raw {
		fmt.Println(reply)
		return nil
	}
	rendered, err := renderMarkdown(reply)
	if err != nil {
		log.Debug(fmt.Sprintf("error rendering markdown: %+v", err))
		fmt.Println(reply)
		return nil
	}
	fmt.Print(rendered)
	return nil
}

func MessagesListCLICommand(ctx context.Context, cmd *cli.Command) error {
	return withCLISession(ctx, cmd, "error listing messages", func(ctx context.Context, s *Session) error {
		messages, err := s.Thread().Messages(ctx)
		if err != nil {
			return err
		}
		// oldest first reads like a conversation
		for i := len(messages) - 1; i >= 0; i-- {
			fmt.Printf("[%s] %s\n\n", messages[i].Role, messages[i].Text())
		}
		return nil
	})
}

func MessagesClearCLICommand(ctx context.Context, cmd *cli.Command) error {
	return withCLISession(ctx, cmd, "error clearing messages", func(ctx context.Context, s *Session) error {
		return s.Thread().ClearMessages(ctx)
	})
}

func ThreadDeleteCLICommand(ctx context.Context, cmd *cli.Command) error {
	return withCLISession(ctx, cmd, "error deleting thread", func(ctx context.Context, s *Session) error {
		return s.Thread().Delete(ctx)
	})
}

// ValidateCLICommand checks a JSON document against a JSON schema file and
// prints the validation result.
func ValidateCLICommand(ctx context.Context, cmd *cli.Command) error {
	configureLogging(cmd.String("log-level"), cmd.String("log-file"))

	if cmd.NArg() != 1 {
		return cli.Exit("a single JSON file is required", 1)
	}

	schema, err := os.ReadFile(cmd.String("schema"))
	if err != nil {
		log.Debug(fmt.Sprintf("%+v", err))
		return cli.Exit("error reading schema file", 1)
	}
	document, err := os.ReadFile(cmd.Args().First())
	if err != nil {
		log.Debug(fmt.Sprintf("%+v", err))
		return cli.Exit("error reading JSON file", 1)
	}

	result := ValidateJSONSchema(string(document), string(schema))
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))

	if !result.Valid() {
		return cli.Exit("", 1)
	}
	return nil
}
