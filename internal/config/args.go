package config

import "strconv"

// Args builds the webfsd argument vector (without argv[0]) for this configuration.
// The order is fixed so that identical configs always produce identical invocations.
func (c ServerConfig) Args() []string {
	args := make([]string, 0, 32)
	if c.Foreground() {
		args = append(args, "-F")
	}
	args = append(args, "-p", strconv.Itoa(c.Port))
	if c.Chroot {
		args = append(args, "-R", c.Root)
	} else {
		args = append(args, "-r", c.Root)
	}
	if c.IPv4Only {
		args = append(args, "-4")
	}
	if c.IPv6Only {
		args = append(args, "-6")
	}
	if c.BindIP != "" {
		args = append(args, "-i", c.BindIP)
	}
	if c.Debug {
		args = append(args, "-d")
	}
	if c.Syslog {
		args = append(args, "-s")
	}
	args = append(args, "-t", strconv.Itoa(c.Timeout), "-c", strconv.Itoa(c.MaxConnections))
	if c.CORS != "" {
		args = append(args, "-O", c.CORS)
	}
	if c.Host != "" {
		args = append(args, "-n", c.Host)
	}
	if c.CanonicalName {
		args = append(args, "-N")
	}
	if c.VirtualHosts {
		args = append(args, "-v")
	}
	if c.Index != "" {
		args = append(args, "-f", c.Index)
	}
	if c.NoListing {
		args = append(args, "-j")
	}
	if c.MaxCachedDirs > 0 {
		args = append(args, "-a", strconv.Itoa(c.MaxCachedDirs))
	}
	if c.Log != "" {
		// -L is the flushing variant of -l
		if c.FlushLog {
			args = append(args, "-L", c.Log)
		} else {
			args = append(args, "-l", c.Log)
		}
	}
	if c.MimeFile != "" {
		args = append(args, "-m", c.MimeFile)
	}
	if c.PIDFile != "" {
		args = append(args, "-k", c.PIDFile)
	}
	if c.Auth != "" {
		args = append(args, "-b", c.Auth)
	}
	if c.ExpireSeconds > 0 {
		args = append(args, "-e", strconv.Itoa(c.ExpireSeconds))
	}
	if c.CGIDir != "" {
		args = append(args, "-x", c.CGIDir)
	}
	if c.UserDir != "" {
		args = append(args, "-~", c.UserDir)
	}
	return args
}
