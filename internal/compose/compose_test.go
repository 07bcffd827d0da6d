package compose_test

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gopkg.in/yaml.v3"

	"github.com/3cpo-dev/chaindeploy/internal/compose"
)

var _ = Describe("Service", func() {
	settings := compose.DefaultSettings()

	DescribeTable("RunArgs",
		func(svc compose.Service, expected ...string) {
			Expect(svc.RunArgs()).To(Equal(expected))
		},
		Entry(
			"database", compose.RethinkDB(settings),
			"docker", "run", "-d", "--name", "rdb", "--network", "host", "--restart", "always",
			"-v", "/data/rethinkdb:/data", "-v", "/data/rethinkdb_conf:/etc/rethinkdb",
			"rethinkdb:2.3.5", "rethinkdb", "--config-file", "/etc/rethinkdb/default.conf",
		),
		Entry(
			"blockchain node", compose.BigchainDB(settings),
			"docker", "run", "-d", "--name", "bdb", "--network", "host", "--restart", "always",
			"-v", "/data/bigchaindb:/data",
			"-e", "BIGCHAINDB_CONFIG_PATH=/data/.unichain", "-e", "BIGCHAINDB_SERVER_BIND=0.0.0.0:9984",
			"unichain:latest", "/bin/sh", "-c", "bigchaindb -y configure && bigchaindb start",
		),
		Entry(
			"init job", compose.BigchainInit(settings),
			"docker", "run", "--rm", "--name", "bdb-init", "--network", "host",
			"-v", "/data/bigchaindb:/data",
			"-e", "BIGCHAINDB_CONFIG_PATH=/data/.unichain", "-e", "BIGCHAINDB_SERVER_BIND=0.0.0.0:9984",
			"-e", "NUM_REPLICAS=1", "-e", "NUM_SHARDS=1",
			"unichain:latest", "/bin/sh", "-c",
			"bigchaindb init && bigchaindb set-shards $NUM_SHARDS && bigchaindb set-replicas $NUM_REPLICAS",
		),
	)

	It("marks read-only mounts", func() {
		Expect(compose.Mount{Source: "/a", Target: "/b", ReadOnly: true}.String()).To(Equal("/a:/b:ro"))
	})

	It("lists host directories to create", func() {
		Expect(compose.RethinkDB(settings).HostDirs()).To(ConsistOf("/data/rethinkdb", "/data/rethinkdb_conf"))
	})

	It("mounts the node config directory and points the node at a file inside it", func() {
		svc := compose.BigchainDB(settings)
		Expect(svc.HostDirs()).To(Equal([]string{"/data/bigchaindb"}))
		Expect(svc.Environment).To(HaveKeyWithValue("BIGCHAINDB_CONFIG_PATH", "/data/.unichain"))
	})

	It("binds the node API on every interface", func() {
		for _, svc := range []compose.Service{compose.BigchainDB(settings), compose.BigchainInit(settings)} {
			Expect(svc.Environment).To(HaveKeyWithValue("BIGCHAINDB_SERVER_BIND", "0.0.0.0:9984"))
		}
		s := settings
		s.ServerBind = ""
		Expect(compose.BigchainDB(s).Environment).ToNot(HaveKey("BIGCHAINDB_SERVER_BIND"))
	})

	It("renders the init environment as a dotenv file", func() {
		s := settings
		s.Shards, s.Replicas = 4, 3
		env, err := compose.BigchainInit(s).EnvFile()
		Expect(err).ToNot(HaveOccurred())
		parsed, err := godotenv.Unmarshal(env)
		Expect(err).ToNot(HaveOccurred())
		Expect(parsed).To(HaveKeyWithValue("NUM_SHARDS", "4"))
		Expect(parsed).To(HaveKeyWithValue("NUM_REPLICAS", "3"))
	})

	It("renders no env file for services without environment", func() {
		Expect(compose.RethinkDB(settings).EnvFile()).To(BeEmpty())
	})
})

var _ = Describe("Project", func() {
	project := compose.NewProject(compose.DefaultSettings())

	It("renders a compose document with all three services", func() {
		raw, err := compose.Render(project)
		Expect(err).ToNot(HaveOccurred())

		var doc struct {
			Services map[string]struct {
				Image       string   `yaml:"image"`
				NetworkMode string   `yaml:"network_mode"`
				EnvFile     []string `yaml:"env_file"`
				Profiles    []string `yaml:"profiles"`
				DependsOn   []string `yaml:"depends_on"`
				Volumes     []string `yaml:"volumes"`
			} `yaml:"services"`
		}
		Expect(yaml.Unmarshal(raw, &doc)).To(Succeed())
		Expect(doc.Services).To(HaveLen(3))
		Expect(doc.Services["rdb"].NetworkMode).To(Equal("host"))
		Expect(doc.Services["rdb"].Volumes).To(ContainElement("/data/rethinkdb:/data"))
		Expect(doc.Services["bdb"].EnvFile).To(Equal([]string{"bdb.env"}))
		Expect(doc.Services["bdb"].DependsOn).To(Equal([]string{"rdb"}))
		Expect(doc.Services["bdb-init"].Profiles).To(Equal([]string{"init"}))
	})

	It("finds services by name", func() {
		svc, ok := project.Service("bdb")
		Expect(ok).To(BeTrue())
		Expect(svc.Image).To(Equal("unichain:latest"))
		_, ok = project.Service("nope")
		Expect(ok).To(BeFalse())
	})

	It("writes the compose file and env files to a directory", func() {
		dir := GinkgoT().TempDir()
		written, err := compose.WriteDir(dir, project)
		Expect(err).ToNot(HaveOccurred())
		Expect(written).To(ConsistOf(
			filepath.Join(dir, "docker-compose.yml"),
			filepath.Join(dir, "bdb.env"),
			filepath.Join(dir, "bdb-init.env"),
		))
		raw, err := os.ReadFile(filepath.Join(dir, "bdb-init.env"))
		Expect(err).ToNot(HaveOccurred())
		Expect(string(raw)).To(ContainSubstring("NUM_SHARDS=1"))
	})
})
