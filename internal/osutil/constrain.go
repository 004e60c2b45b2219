// Package osutil abstracts the OS interactions shared by the edgegate programs: dropping process
// privileges after the listen sockets are open, and signal plumbing for the main loops.
package osutil

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Constrain drops process privileges by switching to the nominated user and group and chrooting
// into the nominated directory. Each parameter is optional when empty.
//
// Ordering matters: names resolve to ids while /etc/passwd is still visible, the chroot happens
// while the process is still powerful enough to do it, supplementary groups are cleared and the
// gid set while the uid still permits it, and the setuid comes last to make the sequence
// irreversible. An error means the downgrade is incomplete and the caller should exit.
func Constrain(userName, groupName, chrootDir string) error {
	uid := -1
	gid := -1

	if len(userName) > 0 {
		u, err := user.Lookup(userName)
		if err != nil {
			return fmt.Errorf("osutil.Constrain: user lookup: %w", err)
		}
		uid, err = strconv.Atoi(u.Uid)
		if err != nil {
			return fmt.Errorf("osutil.Constrain: non-numeric uid %s for %s", u.Uid, userName)
		}
	}

	if len(groupName) > 0 {
		g, err := user.LookupGroup(groupName)
		if err != nil {
			return fmt.Errorf("osutil.Constrain: group lookup: %w", err)
		}
		gid, err = strconv.Atoi(g.Gid)
		if err != nil {
			return fmt.Errorf("osutil.Constrain: non-numeric gid %s for %s", g.Gid, groupName)
		}
	}

	if len(chrootDir) > 0 {
		if err := os.Chdir(chrootDir); err != nil {
			return fmt.Errorf("osutil.Constrain: %w", err)
		}
		if err := unix.Chroot(chrootDir); err != nil {
			return fmt.Errorf("osutil.Constrain: chroot %s: %w", chrootDir, err)
		}
		if err := os.Chdir("/"); err != nil {
			return fmt.Errorf("osutil.Constrain: %w", err)
		}
	}

	if gid != -1 {
		if err := unix.Setgroups([]int{}); err != nil {
			return fmt.Errorf("osutil.Constrain: clear supplementary groups: %w", err)
		}
		if err := unix.Setgid(gid); err != nil {
			return fmt.Errorf("osutil.Constrain: setgid %d/%s: %w", gid, groupName, err)
		}
	}

	if uid != -1 {
		if err := unix.Setuid(uid); err != nil {
			return fmt.Errorf("osutil.Constrain: setuid %d/%s: %w", uid, userName, err)
		}
	}

	return nil
}

// ConstraintReport returns a printable uid/gid/cwd line. Normally logged after Constrain to show
// the downgrade took effect.
func ConstraintReport() string {
	groups, _ := os.Getgroups()
	gStr := make([]string, 0, len(groups))
	for _, g := range groups {
		gStr = append(gStr, strconv.Itoa(g))
	}
	cwd, _ := os.Getwd()

	return fmt.Sprintf("uid=%d gid=%d (%s) cwd=%s",
		os.Getuid(), os.Getgid(), strings.Join(gStr, ","), cwd)
}
