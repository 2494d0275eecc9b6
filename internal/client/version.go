package client

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is the client version string sent with every stored object and
// job submission.
const Version = "0.4.12"

// latestStableVersion maps a version string to its latest stable release:
// dev versions decrement the patch number ("0.1.38.dev1" -> "0.1.37"),
// stable versions pass through unchanged.
func latestStableVersion(version string) (string, error) {
	if !strings.Contains(version, "dev") {
		return version, nil
	}
	parts := strings.Split(version, ".")
	if len(parts) < 3 {
		return "", fmt.Errorf("malformed version %q", version)
	}
	patch, err := strconv.Atoi(parts[2])
	if err != nil {
		return "", fmt.Errorf("malformed version %q: %w", version, err)
	}
	return fmt.Sprintf("%s.%s.%d", parts[0], parts[1], patch-1), nil
}

// versionOutdated reports whether the user version is behind the server
// version, comparing normalized stable versions element-wise.
func versionOutdated(userVersion, serverVersion string) (bool, error) {
	userStable, err := latestStableVersion(userVersion)
	if err != nil {
		return false, err
	}
	serverStable, err := latestStableVersion(serverVersion)
	if err != nil {
		return false, err
	}
	user, err := versionTuple(userStable)
	if err != nil {
		return false, err
	}
	server, err := versionTuple(serverStable)
	if err != nil {
		return false, err
	}
	for i := 0; i < len(user) && i < len(server); i++ {
		if user[i] != server[i] {
			return user[i] < server[i], nil
		}
	}
	return len(user) < len(server), nil
}

func versionTuple(version string) ([]int, error) {
	parts := strings.Split(version, ".")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("malformed version %q: %w", version, err)
		}
		out[i] = n
	}
	return out, nil
}
