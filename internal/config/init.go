package config

import (
	"fmt"
	"os"
)

const defaultConfig = `# sitepress configuration

# Content source: a local directory (build/serve) or checked out from origin (deploy).
source: ./content
# Built output is written here.
target: ./site
# Remote content repository for deploy.
#origin: git@example.com:account/content.git
# Branch the built output is published to.
branch: published

site:
  title: ""          # derived from the repository name when empty
  base_url: ""

build:
  tool: hugo
  #args: ["--minify"]
  incremental: true
  #timeout: 10m

serve:
  addr: ":8080"
  interval: 750ms
  #sync_every: 15m

git:
  author_name: sitepress
  author_email: sitepress@localhost
  retry:
    mode: linear
    initial: 1s
    max: 30s
    max_retries: 2

# Extra commands merged over the built-in set. Example:
#commands:
#  publish:
#    args: [source, target]
#    actions:
#      - build-site {source} {target}
#      - commit-push {target} published "site update"

#notify:
#  enabled: true
#  url: nats://localhost:4222

#metrics:
#  enabled: true
`

// Init writes a commented default configuration file. An existing file is
// only replaced when force is set.
func Init(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
	}
	if err := os.WriteFile(path, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
