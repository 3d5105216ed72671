package cloudinit

import (
	"strings"
	"testing"
)

func TestRender(t *testing.T) {
	t.Run("empty document", func(t *testing.T) {
		out, err := Document{}.Render()
		if err != nil {
			t.Fatalf("Render() error = %v", err)
		}
		if out != "#cloud-config\n" {
			t.Fatalf("Render() = %q, want bare header", out)
		}
	})

	t.Run("web server bootstrap", func(t *testing.T) {
		doc := Document{
			PackageUpdate:  true,
			PackageUpgrade: true,
			Packages:       []string{"nginx"},
			WriteFiles: []File{
				{Path: "/var/www/html/index.html", Content: "<h1>hello</h1>", Permissions: "0644"},
			},
			RunCmd: []string{"systemctl enable nginx", "systemctl restart nginx"},
		}

		out, err := doc.Render()
		if err != nil {
			t.Fatalf("Render() error = %v", err)
		}
		if !strings.HasPrefix(out, "#cloud-config\n") {
			t.Fatalf("Render() missing header: %q", out)
		}
		for _, want := range []string{"package_update: true", "- nginx", "path: /var/www/html/index.html", "- systemctl restart nginx"} {
			if !strings.Contains(out, want) {
				t.Fatalf("Render() missing %q in:\n%s", want, out)
			}
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		doc := Document{Packages: []string{"nginx", "jq"}, RunCmd: []string{"echo done"}}
		first, err := doc.Render()
		if err != nil {
			t.Fatalf("Render() error = %v", err)
		}
		second, err := doc.Render()
		if err != nil {
			t.Fatalf("Render() error = %v", err)
		}
		if first != second {
			t.Fatalf("Render() not deterministic:\n%s\nvs\n%s", first, second)
		}
	})

	t.Run("key order fixed", func(t *testing.T) {
		doc := Document{PackageUpdate: true, Packages: []string{"nginx"}, RunCmd: []string{"true"}}
		out, err := doc.Render()
		if err != nil {
			t.Fatalf("Render() error = %v", err)
		}
		update := strings.Index(out, "package_update")
		packages := strings.Index(out, "packages")
		runcmd := strings.Index(out, "runcmd")
		if update < 0 || packages < 0 || runcmd < 0 {
			t.Fatalf("Render() missing sections:\n%s", out)
		}
		if !(update < packages && packages < runcmd) {
			t.Fatalf("Render() key order wrong:\n%s", out)
		}
	})
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		doc     Document
		wantErr bool
	}{
		{"valid", Document{Packages: []string{"nginx"}}, false},
		{"empty package", Document{Packages: []string{" "}}, true},
		{"relative write path", Document{WriteFiles: []File{{Path: "etc/motd", Content: "x"}}}, true},
		{"missing write path", Document{WriteFiles: []File{{Content: "x"}}}, true},
		{"empty runcmd", Document{RunCmd: []string{""}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.doc.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestParse(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		in := strings.Join([]string{
			"#cloud-config",
			"package_update: true",
			"packages:",
			"  - nginx",
			"runcmd:",
			"  - systemctl restart nginx",
			"",
		}, "\n")

		doc, err := Parse([]byte(in))
		if err != nil {
			t.Fatalf("Parse() error = %v", err)
		}
		if !doc.PackageUpdate {
			t.Fatal("doc.PackageUpdate = false, want true")
		}
		if len(doc.Packages) != 1 || doc.Packages[0] != "nginx" {
			t.Fatalf("doc.Packages = %v, want [nginx]", doc.Packages)
		}
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		_, err := Parse([]byte("bootcmd:\n  - true\n"))
		if err == nil {
			t.Fatal("Parse() expected error for unknown field")
		}
	})
}
