package node

import (
	"net"
	"strconv"
	"time"

	"github.com/wukong-iot/wkpf-gateway/internal/wkpf"
)

// MaxID is the largest assignable node identifier.
const MaxID = 255

// Node is one device in the directory.
type Node struct {
	ID       uint8              `json:"id"`
	Name     string             `json:"name"`
	Host     string             `json:"host"`
	Port     int                `json:"port"`
	Location string             `json:"location"`
	Classes  []uint16           `json:"classes"`
	Objects  []wkpf.ObjectEntry `json:"objects"`
	LastSeen time.Time          `json:"last_seen"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Address returns the node's "host:port" transport address.
func (n *Node) Address() string {
	return net.JoinHostPort(n.Host, strconv.Itoa(n.Port))
}

// HasInventory reports whether the class and object cache is populated.
func (n *Node) HasInventory() bool {
	return len(n.Classes) > 0 || len(n.Objects) > 0
}

// CountObjects returns how many cached objects are instances of classID.
func (n *Node) CountObjects(classID uint16) int {
	count := 0
	for _, o := range n.Objects {
		if o.ClassID == classID {
			count++
		}
	}
	return count
}
