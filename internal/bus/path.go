package bus

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/oklog/ulid/v2"
)

// ObjectPath is the path of an object on the bus.
type ObjectPath string

var objectPathRegexp = regexp.MustCompile(`^/([A-Za-z0-9_]+(/[A-Za-z0-9_]+)*)?$`)

// Validate checks the object path is valid.
func (p ObjectPath) Validate() error {
	if !objectPathRegexp.MatchString(string(p)) {
		return fmt.Errorf("invalid object path %q", p)
	}
	return nil
}

// Child returns a path under p.
func (p ObjectPath) Child(elems ...string) ObjectPath {
	base := strings.TrimSuffix(string(p), "/")
	return ObjectPath(base + "/" + strings.Join(elems, "/"))
}

// NewObjectPath returns a new unique path under the namespace.
func NewObjectPath(namespace ObjectPath) ObjectPath {
	return namespace.Child(ulid.Make().String())
}

// ServicePath returns the root object path of a service name, for example
// `org.taskvisor.Boss` is published at `/org/taskvisor/Boss`.
func ServicePath(service string) ObjectPath {
	return ObjectPath("/" + strings.ReplaceAll(service, ".", "/"))
}
