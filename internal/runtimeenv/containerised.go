// Package runtimeenv detects the host environment the proxy is running in,
// so the composition root can pick sane defaults (e.g. disable file-rotated
// logging when stdout already goes to a container log collector).
package runtimeenv

import (
	"os"
	"strings"
)

// IsContainerised reports whether the current process is likely running
// inside a container. It checks common container signals: /.dockerenv,
// container-related cgroup entries, and Kubernetes environment variables.
func IsContainerised() bool {
	return hasDockerEnvFile() || isInContainerCGroup() || isInKubernetesPod()
}

func hasDockerEnvFile() bool {
	_, err := os.Stat("/.dockerenv")
	return err == nil
}

func isInContainerCGroup() bool {
	data, err := os.ReadFile("/proc/1/cgroup")
	if err != nil {
		return false
	}
	content := string(data)
	return strings.Contains(content, "docker") ||
		strings.Contains(content, "containerd") ||
		strings.Contains(content, "kubepods")
}

func isInKubernetesPod() bool {
	return os.Getenv("KUBERNETES_SERVICE_HOST") != ""
}
