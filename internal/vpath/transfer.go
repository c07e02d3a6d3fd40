package vpath

import "context"

// copyPath implements Path.CopyTo. Grounded on tfm_path.py's cross-backend
// copy helper and rclone's backend Copy/Features.Copy fast-path pattern
// (backend/s3/s3.go): same-scheme backends get first refusal via a native
// copy, falling back to the generic read/write path.
func copyPath(ctx context.Context, src, dest Path, overwrite bool, progress ByteProgressFunc) error {
	exists, err := src.Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return NewErrorf(KindNotFound, nil, "copy: source %s does not exist", src.URI())
	}

	destExists, err := dest.Exists(ctx)
	if err != nil {
		return err
	}
	if destExists && !overwrite {
		return NewErrorf(KindFileExists, nil, "copy: destination %s already exists", dest.URI())
	}

	isDir, err := src.IsDir(ctx)
	if err != nil {
		return err
	}
	if isDir {
		return copyDir(ctx, src, dest, overwrite, progress)
	}
	return copyFile(ctx, src, dest, progress)
}

func copyFile(ctx context.Context, src, dest Path, progress ByteProgressFunc) error {
	if progress != nil {
		data, err := src.impl.ReadBytesWithProgress(ctx, progress)
		if err != nil {
			return err
		}
		return dest.impl.WriteBytesWithProgress(ctx, data, progress)
	}
	data, err := src.ReadBytes(ctx)
	if err != nil {
		return err
	}
	return dest.WriteBytes(ctx, data)
}

func copyDir(ctx context.Context, src, dest Path, overwrite bool, progress ByteProgressFunc) error {
	if err := dest.Mkdir(ctx, true); err != nil {
		return err
	}
	it, err := src.Iterdir(ctx)
	if err != nil {
		return err
	}
	defer it.Close()
	for {
		child, ok, err := it.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		childPath := FromBackend(child)
		if err := copyPath(ctx, childPath, dest.Join(childPath.Name()), overwrite, progress); err != nil {
			return err
		}
	}
	return nil
}

// movePath implements Path.MoveTo: a native same-scheme rename when both
// ends support it, else copy-then-recursive-delete of the source.
func movePath(ctx context.Context, src, dest Path, overwrite bool, progress ByteProgressFunc) error {
	if src.Scheme() == dest.Scheme() && src.SupportsDirectoryRename() {
		if parent, ok := dest.Parent(); ok {
			if _, err := parent.Exists(ctx); err == nil {
				if _, err := src.impl.Rename(ctx, dest.URI()); err == nil {
					return nil
				}
			}
		}
	}
	if err := copyPath(ctx, src, dest, overwrite, progress); err != nil {
		return err
	}
	return deleteRecursive(ctx, src)
}

func deleteRecursive(ctx context.Context, p Path) error {
	isDir, err := p.IsDir(ctx)
	if err != nil {
		return err
	}
	if !isDir {
		return p.Unlink(ctx)
	}
	it, err := p.Iterdir(ctx)
	if err != nil {
		return err
	}
	var children []Path
	for {
		child, ok, err := it.Next(ctx)
		if err != nil {
			it.Close()
			return err
		}
		if !ok {
			break
		}
		children = append(children, FromBackend(child))
	}
	it.Close()
	for _, c := range children {
		if err := deleteRecursive(ctx, c); err != nil {
			return err
		}
	}
	return p.Rmdir(ctx)
}
