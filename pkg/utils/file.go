package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteContentToFile 将内容写入指定文件并确保最终权限与perm完全一致
// filename: 文件名称
// content: 要写入的内容（字节数组）
// perm: 文件权限，如果为0则默认使用0644
// 返回值: 文件的绝对路径和可能的错误
func WriteContentToFile(filename string, content []byte, perm os.FileMode) (string, error) {
	if perm == 0 {
		perm = 0644
	}

	// 确保目录存在
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("创建目录失败: %w", err)
	}

	// 写入文件
	if err := os.WriteFile(filename, content, perm); err != nil {
		return "", fmt.Errorf("写入文件失败: %w", err)
	}

	// os.WriteFile对已存在的文件不会修改权限，这里强制设置
	if err := os.Chmod(filename, perm); err != nil {
		return "", fmt.Errorf("设置文件权限失败: %w", err)
	}

	absPath, err := filepath.Abs(filename)
	if err != nil {
		return "", fmt.Errorf("获取绝对路径失败: %w", err)
	}

	return absPath, nil
}

// CopyFile 将源文件内容复制到目标路径，保持0644权限
// 目标目录不存在时自动创建
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("打开源文件失败: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("创建目标文件失败: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("复制文件内容失败: %w", err)
	}

	return out.Sync()
}

// FileExists 检查文件是否存在（目录不算）
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// CreateDirIfNotExist 确保目录存在，如果不存在则创建
func CreateDirIfNotExist(dir string) error {
	_, err := os.Stat(dir)
	if err == nil {
		return nil // 目录已存在
	}

	if !os.IsNotExist(err) {
		return err
	}

	return os.MkdirAll(dir, 0755)
}
