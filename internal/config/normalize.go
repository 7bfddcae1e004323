package config

import "strings"

func (c *Config) normalize() error {
	var err error

	c.Paths.StateDir = strings.TrimSpace(c.Paths.StateDir)
	c.Paths.LogDir = strings.TrimSpace(c.Paths.LogDir)
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}

	c.Power.Source = strings.ToLower(strings.TrimSpace(c.Power.Source))
	c.Power.GPIOValuePath = strings.TrimSpace(c.Power.GPIOValuePath)
	c.Power.UdevSupply = strings.TrimSpace(c.Power.UdevSupply)
	c.Power.OnlinePath = strings.TrimSpace(c.Power.OnlinePath)

	c.Watchdog.Device = strings.TrimSpace(c.Watchdog.Device)

	mounts := make([]string, 0, len(c.Protection.Mounts))
	for _, mount := range c.Protection.Mounts {
		trimmed := strings.TrimSpace(mount)
		if trimmed == "" {
			continue
		}
		expanded, expandErr := expandPath(trimmed)
		if expandErr != nil {
			return expandErr
		}
		mounts = append(mounts, expanded)
	}
	c.Protection.Mounts = mounts

	for i := range c.Protection.Overlays {
		o := &c.Protection.Overlays[i]
		for _, field := range []*string{&o.Lower, &o.Upper, &o.Work, &o.Mount} {
			trimmed := strings.TrimSpace(*field)
			if trimmed == "" {
				*field = trimmed
				continue
			}
			expanded, expandErr := expandPath(trimmed)
			if expandErr != nil {
				return expandErr
			}
			*field = expanded
		}
	}

	commands := make([]string, 0, len(c.Shutdown.StopCommands))
	for _, command := range c.Shutdown.StopCommands {
		if trimmed := strings.TrimSpace(command); trimmed != "" {
			commands = append(commands, trimmed)
		}
	}
	c.Shutdown.StopCommands = commands

	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))

	return nil
}
