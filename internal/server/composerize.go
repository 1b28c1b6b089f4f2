package server

import (
	"strings"

	shellwords "github.com/mattn/go-shellwords"
	"gopkg.in/yaml.v3"

	"github.com/griffithind/dockge/internal/errors"
)

// Composerize converts a docker run command line into a compose file
// fragment. Flags without a compose equivalent are dropped.
func Composerize(command string) (string, error) {
	tokens, err := shellwords.Parse(strings.TrimSpace(command))
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryValidation, errors.CodeInvalidArgument,
			"Cannot parse command")
	}

	// Accept "docker run …", "run …" or the bare argument list.
	if len(tokens) > 0 && tokens[0] == "docker" {
		tokens = tokens[1:]
	}
	if len(tokens) > 0 && (tokens[0] == "run" || tokens[0] == "create") {
		tokens = tokens[1:]
	}
	if len(tokens) == 0 {
		return "", errors.New(errors.CategoryValidation, errors.CodeInvalidArgument,
			"Command is not a docker run command")
	}

	service := map[string]any{}
	var image string
	var cmd []string

	addList := func(key, value string) {
		list, _ := service[key].([]string)
		service[key] = append(list, value)
	}

	for i := 0; i < len(tokens); i++ {
		token := tokens[i]

		// First non-flag token is the image; the rest is the command.
		if !strings.HasPrefix(token, "-") {
			if image == "" {
				image = token
				continue
			}
			cmd = append(cmd, tokens[i:]...)
			break
		}

		flag, inline, hasInline := strings.Cut(token, "=")
		value := inline
		takesValue := func() bool {
			if hasInline {
				return true
			}
			if i+1 < len(tokens) {
				i++
				value = tokens[i]
				return true
			}
			return false
		}

		switch flag {
		case "-p", "--publish":
			if takesValue() {
				addList("ports", value)
			}
		case "-v", "--volume":
			if takesValue() {
				addList("volumes", value)
			}
		case "-e", "--env":
			if takesValue() {
				addList("environment", value)
			}
		case "--env-file":
			if takesValue() {
				addList("env_file", value)
			}
		case "--name":
			if takesValue() {
				service["container_name"] = value
			}
		case "--network", "--net":
			if takesValue() {
				addList("networks", value)
			}
		case "--restart":
			if takesValue() {
				service["restart"] = value
			}
		case "--hostname", "-h":
			if takesValue() {
				service["hostname"] = value
			}
		case "--label", "-l":
			if takesValue() {
				addList("labels", value)
			}
		case "--device":
			if takesValue() {
				addList("devices", value)
			}
		case "--cap-add":
			if takesValue() {
				addList("cap_add", value)
			}
		case "--entrypoint":
			if takesValue() {
				service["entrypoint"] = value
			}
		case "--user", "-u":
			if takesValue() {
				service["user"] = value
			}
		case "--workdir", "-w":
			if takesValue() {
				service["working_dir"] = value
			}
		case "--privileged":
			service["privileged"] = true
		case "--init":
			service["init"] = true
		case "--rm", "-d", "--detach", "-it", "-i", "--interactive", "-t", "--tty":
			// No compose equivalent.
		default:
			// Unknown flags are dropped; consume a value-looking
			// argument so it is not mistaken for the image.
			if !hasInline && i+1 < len(tokens) && !strings.HasPrefix(tokens[i+1], "-") &&
				flagTakesValue(flag) {
				i++
			}
		}
	}

	if image == "" {
		return "", errors.New(errors.CategoryValidation, errors.CodeInvalidArgument,
			"Command is not a docker run command")
	}
	service["image"] = image
	if len(cmd) == 1 {
		service["command"] = cmd[0]
	} else if len(cmd) > 1 {
		service["command"] = cmd
	}

	serviceName := serviceNameFromImage(image)
	doc := map[string]any{
		"services": map[string]any{serviceName: service},
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, errors.CodeInternal,
			"cannot render compose file")
	}
	return string(out), nil
}

// flagTakesValue guesses whether an unrecognised long flag consumes the
// next token.
func flagTakesValue(flag string) bool {
	switch flag {
	case "--read-only", "--no-healthcheck", "--oom-kill-disable", "--sig-proxy":
		return false
	}
	return strings.HasPrefix(flag, "--")
}

// serviceNameFromImage derives a service key from an image reference:
// strip registry, tag and digest, keep the final path element.
func serviceNameFromImage(image string) string {
	name := image
	if idx := strings.LastIndex(name, "@"); idx >= 0 {
		name = name[:idx]
	}
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	if idx := strings.Index(name, ":"); idx >= 0 {
		name = name[:idx]
	}
	if name == "" {
		return "app"
	}
	return name
}
