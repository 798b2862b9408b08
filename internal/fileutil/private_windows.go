//go:build windows

package fileutil

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sys/windows"
)

// ownerOnlyDACL replaces path's DACL with a single entry granting the
// current user full control. Directories pass the entry on to children.
func ownerOnlyDACL(path string, dir bool) error {
	user, err := windows.GetCurrentProcessToken().GetTokenUser()
	if err != nil {
		return fmt.Errorf("fileutil: current user SID: %w", err)
	}

	inherit := uint32(windows.NO_INHERITANCE)
	if dir {
		inherit = windows.CONTAINER_INHERIT_ACE | windows.OBJECT_INHERIT_ACE
	}
	acl, err := windows.ACLFromEntries([]windows.EXPLICIT_ACCESS{{
		AccessPermissions: windows.GENERIC_ALL,
		AccessMode:        windows.SET_ACCESS,
		Inheritance:       inherit,
		Trustee: windows.TRUSTEE{
			TrusteeForm:  windows.TRUSTEE_IS_SID,
			TrusteeType:  windows.TRUSTEE_IS_USER,
			TrusteeValue: windows.TrusteeValueFromSID(user.User.Sid),
		},
	}}, nil)
	if err != nil {
		return fmt.Errorf("fileutil: build ACL for %s: %w", path, err)
	}

	info := windows.SECURITY_INFORMATION(windows.DACL_SECURITY_INFORMATION | windows.PROTECTED_DACL_SECURITY_INFORMATION)
	if err := windows.SetNamedSecurityInfo(path, windows.SE_FILE_OBJECT, info, nil, nil, acl, nil); err != nil {
		return fmt.Errorf("fileutil: set DACL on %s: %w", path, err)
	}
	return nil
}

// PrivateDir creates dir and any missing parents with owner-only access.
// Only directories created here get the restrictive DACL.
func PrivateDir(dir string) error {
	var created []string
	for p := filepath.Clean(dir); ; {
		if _, err := os.Stat(p); err == nil {
			break
		}
		created = append(created, p)
		parent := filepath.Dir(p)
		if parent == p {
			break
		}
		p = parent
	}

	if err := os.MkdirAll(dir, dirMode); err != nil {
		return err
	}
	for _, p := range created {
		if err := ownerOnlyDACL(p, true); err != nil {
			slog.Warn("restrict directory failed", "path", p, "error", err)
		}
	}
	return nil
}

// PrivateFile restricts an existing file to owner-only access.
func PrivateFile(path string) error {
	if err := os.Chmod(path, fileMode); err != nil {
		return err
	}
	if err := ownerOnlyDACL(path, false); err != nil {
		slog.Warn("restrict file failed", "path", path, "error", err)
	}
	return nil
}
