package backend

import (
	"context"
	"errors"
	"io"
	"os"
	"path"
	"sort"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Compile-time interface check.
var _ Backend = (*SFTP)(nil)

// SFTP is a remote-filesystem backend over an established SSH connection.
// SFTP file handles support Seek and WriteAt, so ranged reads and
// positional writes work and parallel chunk streams are safe; the
// recommended connection bound is kept modest because every stream
// multiplexes over one SSH transport.
type SFTP struct {
	client *sftp.Client
	ssh    *ssh.Client
}

// NewSFTP wraps an already-authenticated SSH client. The caller owns
// protocol selection and auth; Close tears down both the SFTP session
// and the SSH transport.
func NewSFTP(sshClient *ssh.Client) (*SFTP, error) {
	client, err := sftp.NewClient(sshClient)
	if err != nil {
		return nil, wrap("sftp session", "", err)
	}
	return &SFTP{client: client, ssh: sshClient}, nil
}

func (b *SFTP) Stat(_ context.Context, p string) (FileStat, error) {
	info, err := b.client.Stat(p)
	if err != nil {
		return FileStat{}, wrapSFTP("stat", p, err)
	}
	return fileInfoToStat(info), nil
}

func (b *SFTP) List(_ context.Context, p string) ([]Entry, error) {
	infos, err := b.client.ReadDir(p)
	if err != nil {
		return nil, wrapSFTP("list", p, err)
	}
	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, Entry{Name: info.Name(), Stat: fileInfoToStat(info)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (b *SFTP) OpenRead(_ context.Context, p string, rng *ByteRange) (io.ReadCloser, error) {
	f, err := b.client.Open(p)
	if err != nil {
		return nil, wrapSFTP("open read", p, err)
	}
	if rng == nil {
		return f, nil
	}
	if _, err := f.Seek(rng.Offset, io.SeekStart); err != nil {
		f.Close()
		return nil, wrapSFTP("open read", p, err)
	}
	return &sectionReader{r: io.LimitReader(f, rng.Length), c: f}, nil
}

func (b *SFTP) OpenWrite(_ context.Context, p string, offset int64) (io.WriteCloser, error) {
	if offset < 0 {
		f, err := b.client.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
		if err != nil {
			return nil, wrapSFTP("open write", p, err)
		}
		return f, nil
	}
	f, err := b.client.OpenFile(p, os.O_WRONLY)
	if err != nil {
		return nil, wrapSFTP("open write", p, err)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, wrapSFTP("open write", p, err)
	}
	return f, nil
}

func (b *SFTP) Truncate(_ context.Context, p string, size int64) error {
	f, err := b.client.OpenFile(p, os.O_WRONLY|os.O_CREATE)
	if err != nil {
		return wrapSFTP("truncate", p, err)
	}
	defer f.Close()
	if err := f.Truncate(size); err != nil {
		return wrapSFTP("truncate", p, err)
	}
	return nil
}

func (b *SFTP) MkdirAll(_ context.Context, p string) error {
	return wrapSFTP("mkdir", p, b.client.MkdirAll(p))
}

func (b *SFTP) Rename(_ context.Context, oldPath, newPath string) error {
	// SFTP rename fails if the target exists; remove first.
	_ = b.client.Remove(newPath)
	return wrapSFTP("rename", oldPath, b.client.Rename(oldPath, newPath))
}

func (b *SFTP) Remove(_ context.Context, p string) error {
	return wrapSFTP("remove", p, b.client.Remove(p))
}

func (b *SFTP) SetMeta(_ context.Context, p string, meta FileMeta) error {
	if err := b.client.Chmod(p, meta.Mode.Perm()); err != nil {
		return wrapSFTP("set meta", p, err)
	}
	if !meta.ModTime.IsZero() {
		if err := b.client.Chtimes(p, meta.ModTime, meta.ModTime); err != nil {
			return wrapSFTP("set meta", p, err)
		}
	}
	return nil
}

func (*SFTP) Join(elem ...string) string { return path.Join(elem...) }

func (*SFTP) Features() Capabilities {
	return Capabilities{Seek: true, Parallel: true, Permissions: true, MaxConns: 4}
}

func (b *SFTP) Close() error {
	err := b.client.Close()
	if sshErr := b.ssh.Close(); sshErr != nil && err == nil {
		err = sshErr
	}
	return err
}

// wrapSFTP classifies sftp status errors before the generic fallback.
func wrapSFTP(op, p string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case os.IsNotExist(err):
		return NewError(KindNotFound, op, p, err)
	case os.IsPermission(err):
		return NewError(KindPermissionDenied, op, p, err)
	case errors.Is(err, sftp.ErrSSHFxConnectionLost), errors.Is(err, sftp.ErrSSHFxNoConnection):
		return NewError(KindConnectionFailed, op, p, err)
	case errors.Is(err, sftp.ErrSSHFxOpUnsupported):
		return NewError(KindUnsupported, op, p, err)
	}
	return wrap(op, p, err)
}
