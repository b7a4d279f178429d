// file: internal/suggest/suggest_test.go

package suggest

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestNew_LoadsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "suggestions.yaml")
	content := "suggestions:\n  - 找出本周新增的联系人\n  - 统计各阶段的商机数量\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写入临时提示词文件失败: %v", err)
	}

	s := New(path)
	got := s.Suggestions()
	want := []string{"找出本周新增的联系人", "统计各阶段的商机数量"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("提示词列表不符合预期: got %v, want %v", got, want)
	}
}

func TestNew_MissingFileFallsBackToDefaults(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "no_such.yaml"))
	if got := s.Suggestions(); !reflect.DeepEqual(got, defaultSuggestions) {
		t.Errorf("文件缺失时应使用默认提示词: got %v", got)
	}
}

func TestReload_RejectsEmptyList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "suggestions.yaml")
	if err := os.WriteFile(path, []byte("suggestions:\n  - 有效提示\n"), 0o644); err != nil {
		t.Fatalf("写入临时提示词文件失败: %v", err)
	}
	s := New(path)

	// 清空文件后重载应失败并保留当前列表
	if err := os.WriteFile(path, []byte("suggestions: []\n"), 0o644); err != nil {
		t.Fatalf("覆写临时提示词文件失败: %v", err)
	}
	if err := s.reload(); err == nil {
		t.Errorf("空列表的重载应返回错误")
	}
	if got := s.Suggestions(); !reflect.DeepEqual(got, []string{"有效提示"}) {
		t.Errorf("失败的重载不应改动当前列表: got %v", got)
	}
}

func TestSuggestions_ReturnsCopy(t *testing.T) {
	s := New("")
	first := s.Suggestions()
	first[0] = "被篡改"
	if second := s.Suggestions(); second[0] == "被篡改" {
		t.Errorf("Suggestions() 应返回副本而非内部切片")
	}
}
