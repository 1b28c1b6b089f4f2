package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strings"

	"github.com/minio/selfupdate"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/griffithind/dockge/internal/version"
)

const (
	repoOwner = "griffithind"
	repoName  = "dockge"
)

var upgradeCmd = &cobra.Command{
	Use:   "upgrade",
	Short: "Upgrade dockge to the latest release",
	Long: `Check GitHub releases for a newer version and replace the running
binary in place. If the current version is already the latest, no
action is taken.`,
	RunE: runUpgrade,
}

func init() {
	rootCmd.AddCommand(upgradeCmd)
}

type githubRelease struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
	Assets  []struct {
		Name               string `json:"name"`
		BrowserDownloadURL string `json:"browser_download_url"`
	} `json:"assets"`
}

func runUpgrade(cmd *cobra.Command, args []string) error {
	pterm.Info.Printfln("Current version: %s", version.Version)

	release, err := latestRelease()
	if err != nil {
		return fmt.Errorf("failed to check for updates: %w", err)
	}
	pterm.Info.Printfln("Latest version:  %s", release.TagName)

	if strings.TrimPrefix(release.TagName, "v") == strings.TrimPrefix(version.Version, "v") {
		pterm.Success.Println("Already up to date.")
		return nil
	}

	assetName := fmt.Sprintf("dockge-%s-%s", runtime.GOOS, runtime.GOARCH)
	var downloadURL string
	for _, asset := range release.Assets {
		if asset.Name == assetName {
			downloadURL = asset.BrowserDownloadURL
			break
		}
	}
	if downloadURL == "" {
		return fmt.Errorf("no binary available for %s/%s", runtime.GOOS, runtime.GOARCH)
	}

	pterm.Info.Printfln("Downloading %s...", assetName)
	resp, err := http.Get(downloadURL)
	if err != nil {
		return fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	if err := selfupdate.Apply(resp.Body, selfupdate.Options{}); err != nil {
		if rollbackErr := selfupdate.RollbackError(err); rollbackErr != nil {
			return fmt.Errorf("upgrade failed and rollback failed, reinstall manually: %w", rollbackErr)
		}
		return fmt.Errorf("upgrade failed: %w", err)
	}

	pterm.Success.Printfln("Upgraded to %s", release.TagName)
	pterm.Info.Printfln("Release notes: %s", release.HTMLURL)
	return nil
}

func latestRelease() (*githubRelease, error) {
	url := fmt.Sprintf("https://api.github.com/repos/%s/%s/releases/latest", repoOwner, repoName)
	resp, err := http.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GitHub API returned %d", resp.StatusCode)
	}

	var release githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, err
	}
	return &release, nil
}
